package httpx

import (
	"github.com/go-chi/chi/v5"
)

// API groups the handlers of the marketplace service.
type API struct {
	Cart      *CartHandler
	Checkout  *CheckoutHandler
	Webhook   *WebhookHandler
	Orders    *OrdersHandler
	JWTSecret []byte
}

// Mount registers the public webhook and the buyer routes behind Identity.
func (a *API) Mount(r chi.Router) {
	a.Webhook.Register(r)
	r.Group(func(r chi.Router) {
		r.Use(Identity(a.JWTSecret))
		a.Cart.Register(r)
		a.Checkout.Register(r)
		a.Orders.Register(r)
	})
}
