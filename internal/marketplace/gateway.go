package marketplace

import (
	"context"

	"github.com/shopspring/decimal"
)

type PreferenceItem struct {
	ID         string
	Title      string
	Quantity   int
	CurrencyID string
	UnitPrice  decimal.Decimal
}

// Preference is a checkout request for one seller's lines.
type Preference struct {
	Items             []PreferenceItem
	ExternalReference string
	Fee               decimal.Decimal
}

// Payment is the typed view of a gateway payment lookup.
type Payment struct {
	HTTPStatus        int
	Status            Status
	ExternalReference string
}

type PreferenceCreator interface {
	// CreatePreference registers the preference on behalf of the seller
	// identified by credential and returns the buyer redirect URL.
	CreatePreference(ctx context.Context, credential string, p Preference) (string, error)
}

type PaymentLookup interface {
	GetPayment(ctx context.Context, paymentID string) (Payment, error)
}

type Gateway interface {
	PreferenceCreator
	PaymentLookup
}
