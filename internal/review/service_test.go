package review_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-marketplace/internal/marketplace"
	"github.com/ariefcatur/go-marketplace/internal/review"
)

type call struct {
	eventID, orderID string
	details          []marketplace.StockShortfallDetail
}

type fakeRecorder struct {
	calls []call
	err   error
}

func (f *fakeRecorder) RecordShortfalls(_ context.Context, eventID, orderID string, details []marketplace.StockShortfallDetail) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.calls = append(f.calls, call{eventID, orderID, details})
	return len(details), nil
}

func message(t *testing.T, eventType string, payload any) kafkago.Message {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	value, err := json.Marshal(marketplace.Envelope{EventID: "ev-1", EventType: eventType, EventVersion: 1, Payload: body})
	require.NoError(t, err)
	return kafkago.Message{Value: value}
}

func shortfall() marketplace.StockShortfallPayload {
	return marketplace.StockShortfallPayload{
		OrderID:   "order-1",
		PaymentID: "42",
		Details: []marketplace.StockShortfallDetail{
			{ProductID: "p1", Required: 2, Available: 1, Reason: "insufficient_stock"},
		},
	}
}

func TestHandleShortfallRecords(t *testing.T) {
	rec := &fakeRecorder{}
	svc := &review.Service{Store: rec, ServiceName: "review"}

	require.NoError(t, svc.HandleShortfall(context.Background(), message(t, marketplace.EventStockShortfall, shortfall())))
	require.Len(t, rec.calls, 1)
	assert.Equal(t, "ev-1", rec.calls[0].eventID)
	assert.Equal(t, "order-1", rec.calls[0].orderID)
	assert.Equal(t, 1, rec.calls[0].details[0].Available)
}

func TestHandleShortfallIgnoresOtherEvents(t *testing.T) {
	rec := &fakeRecorder{}
	svc := &review.Service{Store: rec}
	require.NoError(t, svc.HandleShortfall(context.Background(), message(t, marketplace.EventOrderCreated, struct{}{})))
	assert.Empty(t, rec.calls)
}

func TestHandleShortfallErrors(t *testing.T) {
	svc := &review.Service{Store: &fakeRecorder{}}
	assert.Error(t, svc.HandleShortfall(context.Background(), kafkago.Message{Value: []byte("not json")}))

	boom := errors.New("db down")
	svc = &review.Service{Store: &fakeRecorder{err: boom}}
	assert.ErrorIs(t, svc.HandleShortfall(context.Background(), message(t, marketplace.EventStockShortfall, shortfall())), boom)
}
