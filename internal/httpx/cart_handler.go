package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-marketplace/internal/marketplace"
)

type CartHandler struct {
	Cart *marketplace.CartService
	Log  *zap.Logger
}

type AddItemReq struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CartLineResp struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	UnitPrice string `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Stock     int    `json:"stock"`
	Subtotal  string `json:"subtotal"`
}

type SellerGroupResp struct {
	SellerID string         `json:"seller_id"`
	Lines    []CartLineResp `json:"lines"`
	Subtotal string         `json:"subtotal"`
}

type CartResp struct {
	CartID  string            `json:"cart_id,omitempty"`
	Sellers []SellerGroupResp `json:"sellers"`
	Total   string            `json:"total"`
	Message string            `json:"message,omitempty"`
}

// Register mounts the cart routes. r must already carry Identity.
func (h *CartHandler) Register(r chi.Router) {
	r.Get("/cart", h.view)
	r.Post("/cart/items", h.add)
	r.Post("/cart/items/{productID}/decrement", h.removeOne)
	r.Delete("/cart/items/{productID}", h.delete)
}

func toCartResp(c *marketplace.Cart) CartResp {
	out := CartResp{CartID: c.ID, Sellers: []SellerGroupResp{}, Total: c.Total().StringFixed(2)}
	for _, g := range c.BySeller() {
		sg := SellerGroupResp{SellerID: g.SellerID, Subtotal: g.Subtotal.StringFixed(2)}
		for _, l := range g.Lines {
			sg.Lines = append(sg.Lines, CartLineResp{
				ProductID: l.Product.ID,
				Title:     l.Product.Title,
				UnitPrice: l.Product.Price.StringFixed(2),
				Quantity:  l.Quantity,
				Stock:     l.Product.Stock,
				Subtotal:  l.Subtotal().StringFixed(2),
			})
		}
		out.Sellers = append(out.Sellers, sg)
	}
	return out
}

func (h *CartHandler) view(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	c, err := h.Cart.View(ctx, Buyer(r).BuyerID)
	if err != nil {
		nopIfNil(h.Log).Error("load cart", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	resp := toCartResp(c)
	resp.Message = r.URL.Query().Get("message")
	writeJSON(w, http.StatusOK, resp)
}

func (h *CartHandler) add(w http.ResponseWriter, r *http.Request) {
	var req AddItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.ProductID == "" || req.Quantity < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	err := h.Cart.Add(ctx, Buyer(r).BuyerID, req.ProductID, req.Quantity)
	h.finish(w, r, err)
}

func (h *CartHandler) removeOne(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	h.finish(w, r, h.Cart.RemoveOne(ctx, Buyer(r).BuyerID, chi.URLParam(r, "productID")))
}

func (h *CartHandler) delete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	h.finish(w, r, h.Cart.Delete(ctx, Buyer(r).BuyerID, chi.URLParam(r, "productID")))
}

// finish redirects back to the cart view after a mutation.
func (h *CartHandler) finish(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case err == nil:
		http.Redirect(w, r, "/cart", http.StatusSeeOther)
	case errors.Is(err, marketplace.ErrProductNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
	default:
		nopIfNil(h.Log).Error("cart mutation", zap.String("buyer_id", Buyer(r).BuyerID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
