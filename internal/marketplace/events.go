package marketplace

import (
	"context"
	"encoding/json"
	"time"
)

const (
	EventOrderCreated         = "OrderCreated"
	EventPaymentStatusChanged = "PaymentStatusChanged"
	EventStockShortfall       = "StockShortfall"
	EventOrderExpired         = "OrderExpired"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the Event* constants
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// EventSink publishes domain events. Implementations must not block on the
// broker; delivery is best effort after the state change is committed.
type EventSink interface {
	Emit(ctx context.Context, eventType, orderID string, payload any) error
}

type ItemPrice struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
	UnitPrice string `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderID  string      `json:"order_id"`
	SellerID string      `json:"seller_id"`
	BuyerID  string      `json:"buyer_id"`
	Items    []ItemPrice `json:"items"`
	Total    string      `json:"total"`
	Fee      string      `json:"fee"`
}

type PaymentStatusChangedPayload struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	From      Status `json:"from"`
	To        Status `json:"to"`
}

type StockShortfallDetail struct {
	ProductID string `json:"product_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
	Reason    string `json:"reason"` // insufficient_stock | missing_product
}

type StockShortfallPayload struct {
	OrderID   string                 `json:"order_id"`
	PaymentID string                 `json:"payment_id"`
	Details   []StockShortfallDetail `json:"details"`
}

type OrderExpiredPayload struct {
	OrderID      string    `json:"order_id"`
	PendingSince time.Time `json:"pending_since"`
}

type nopSink struct{}

func (nopSink) Emit(context.Context, string, string, any) error { return nil }

func sinkOrNop(s EventSink) EventSink {
	if s == nil {
		return nopSink{}
	}
	return s
}
