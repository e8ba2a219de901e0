package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-marketplace/internal/marketplace"
	"github.com/ariefcatur/go-marketplace/internal/metrics"
)

const genericCheckoutMessage = "Não foi possível finalizar a compra. Tente novamente."

type CheckoutHandler struct {
	Checkout *marketplace.Checkout
	Log      *zap.Logger
}

// Register mounts the checkout route. r must already carry Identity.
func (h *CheckoutHandler) Register(r chi.Router) {
	r.Post("/checkout/{sellerID}", h.checkout)
}

func checkoutResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, marketplace.ErrConfiguration):
		return "configuration"
	case errors.Is(err, marketplace.ErrEmptyCartForSeller):
		return "empty_cart"
	case errors.Is(err, marketplace.ErrGateway):
		return "gateway"
	default:
		return "internal"
	}
}

// checkout answers with a redirect either way: to the gateway on success, or
// back to the cart carrying a message for the buyer.
func (h *CheckoutHandler) checkout(w http.ResponseWriter, r *http.Request) {
	sellerID := chi.URLParam(r, "sellerID")

	// gateway round trip included
	ctx, cancel := context.WithTimeout(r.Context(), 12*time.Second)
	defer cancel()

	res, err := h.Checkout.Run(ctx, Buyer(r).BuyerID, sellerID)
	metrics.RecordCheckout(checkoutResult(err))
	if err == nil {
		http.Redirect(w, r, res.RedirectURL, http.StatusSeeOther)
		return
	}

	msg := genericCheckoutMessage
	var ce *marketplace.CheckoutError
	if errors.As(err, &ce) && ce.Message != "" {
		msg = ce.Message
	} else {
		nopIfNil(h.Log).Error("checkout failed",
			zap.String("buyer_id", Buyer(r).BuyerID),
			zap.String("seller_id", sellerID),
			zap.Error(err))
	}
	http.Redirect(w, r, "/cart?message="+url.QueryEscape(msg), http.StatusSeeOther)
}
