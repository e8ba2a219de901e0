package marketplace

import (
	"time"

	"github.com/shopspring/decimal"
)

type Seller struct {
	ID   string
	Name string
	// PaymentCredential is the seller's gateway access token. Empty means the
	// seller cannot receive payments yet.
	PaymentCredential string
}

type Product struct {
	ID       string
	SellerID string
	Title    string
	Price    decimal.Decimal
	Stock    int
}

type Order struct {
	ID       string
	SellerID string
	BuyerID  string
	Status   Status
	Total    decimal.Decimal
	// Fulfilled is set once the first approval has decremented stock.
	Fulfilled bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExternalReference is the value handed to the gateway and echoed back on
// payment notifications.
func (o Order) ExternalReference() string { return o.ID }

// OrderLine snapshots the unit price at purchase time.
type OrderLine struct {
	OrderID   string
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// OrderTotal sums the line subtotals of an order.
func OrderTotal(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}
