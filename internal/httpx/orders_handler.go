package httpx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-marketplace/internal/marketplace"
	"github.com/ariefcatur/go-marketplace/internal/redisx"
)

// StatusReader is satisfied by *redisx.StatusCache.
type StatusReader interface {
	Get(ctx context.Context, orderID string) (redisx.CachedStatus, bool, error)
	Put(ctx context.Context, o marketplace.Order) error
}

type OrdersHandler struct {
	Orders marketplace.OrderRepo
	Cache  StatusReader // optional
	Log    *zap.Logger
}

type OrderStatusResp struct {
	OrderID  string             `json:"order_id"`
	Status   marketplace.Status `json:"status"`
	SellerID string             `json:"seller_id"`
	Total    string             `json:"total"`
}

// Register mounts the order routes. r must already carry Identity.
func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/orders/{id}", h.getOrder)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	caller := Buyer(r).BuyerID

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	if h.Cache != nil {
		cs, ok, err := h.Cache.Get(ctx, orderID)
		if err != nil {
			nopIfNil(h.Log).Warn("status cache read", zap.String("order_id", orderID), zap.Error(err))
		}
		if ok {
			if caller != cs.BuyerID && caller != cs.SellerID {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
				return
			}
			writeJSON(w, http.StatusOK, OrderStatusResp{OrderID: cs.OrderID, Status: cs.Status, SellerID: cs.SellerID, Total: cs.Total})
			return
		}
	}

	// 2) fallback store
	o, err := h.Orders.GetOrder(ctx, orderID)
	if errors.Is(err, marketplace.ErrOrderNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		nopIfNil(h.Log).Error("get order", zap.String("order_id", orderID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	// Other people's orders look the same as missing ones.
	if caller != o.BuyerID && caller != o.SellerID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if h.Cache != nil {
		if err := h.Cache.Put(ctx, o); err != nil {
			nopIfNil(h.Log).Warn("status cache write", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, OrderStatusResp{OrderID: o.ID, Status: o.Status, SellerID: o.SellerID, Total: o.Total.StringFixed(2)})
}
