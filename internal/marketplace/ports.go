package marketplace

import (
	"context"
	"time"
)

type SellerRepo interface {
	// GetSeller returns ErrNotFound for an unknown seller.
	GetSeller(ctx context.Context, id string) (Seller, error)
}

type ProductRepo interface {
	// GetProduct returns ErrProductNotFound for an unknown product.
	GetProduct(ctx context.Context, id string) (Product, error)
}

type CartRepo interface {
	// LoadCart returns the buyer's cart with current product data on every
	// line, or ErrNotFound when the buyer never added anything.
	LoadCart(ctx context.Context, buyerID string) (*Cart, error)
	// SaveCart creates the cart if needed and replaces its lines.
	SaveCart(ctx context.Context, c *Cart) error
	// RemoveProducts deletes the buyer's lines for the given products and
	// reports how many were removed. A missing cart removes nothing.
	RemoveProducts(ctx context.Context, buyerID string, productIDs []string) (int, error)
}

type OrderRepo interface {
	// CreateOrder stores an order together with its lines atomically.
	CreateOrder(ctx context.Context, o Order, lines []OrderLine) error
	// GetOrder returns ErrOrderNotFound for an unknown id.
	GetOrder(ctx context.Context, id string) (Order, error)
	LinesFor(ctx context.Context, orderID string) ([]OrderLine, error)
	// ListPending returns orders still pending that were created before t.
	ListPending(ctx context.Context, createdBefore time.Time) ([]Order, error)
	// WithOrderLock runs fn while holding the order exclusively. Writes made
	// through tx become visible only if fn returns nil. Unknown ids yield
	// ErrOrderNotFound without calling fn.
	WithOrderLock(ctx context.Context, orderID string, fn func(ctx context.Context, o Order, tx OrderTx) error) error
}

// OrderTx is the store as seen from inside WithOrderLock.
type OrderTx interface {
	LinesFor(ctx context.Context, orderID string) ([]OrderLine, error)
	SetStatus(ctx context.Context, orderID string, s Status) error
	MarkFulfilled(ctx context.Context, orderID string) error
	// DecrementStock subtracts qty from the product when at least qty is in
	// stock. It reports the stock seen before the change and whether the
	// decrement happened. Unknown products yield ErrProductNotFound.
	DecrementStock(ctx context.Context, productID string, qty int) (available int, ok bool, err error)
	RemoveCartProducts(ctx context.Context, buyerID string, productIDs []string) (int, error)
}

// StatusCache holds the last known status of an order for fast reads.
type StatusCache interface {
	Put(ctx context.Context, o Order) error
}
