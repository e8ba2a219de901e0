package marketplace_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ariefcatur/go-marketplace/internal/marketplace"
	"github.com/ariefcatur/go-marketplace/internal/memstore"
)

type reconcileFixture struct {
	st    *memstore.Store
	gw    *fakeGateway
	sink  *recordingSink
	cache *recordingCache
	rec   *marketplace.Reconciler
}

// newReconcileFixture checks out p1 x2 for buyer b1 and leaves the order pending.
func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()
	f := &reconcileFixture{st: seed(), gw: newFakeGateway(), sink: &recordingSink{}, cache: &recordingCache{}}
	fillCart(t, f.st, "b1", map[string]int{"p1": 2})
	_, err := newCheckout(f.st, f.gw, nil).Run(context.Background(), "b1", "s1")
	require.NoError(t, err)
	f.rec = &marketplace.Reconciler{Gateway: f.gw, Orders: f.st, Cache: f.cache, Events: f.sink}
	return f
}

func (f *reconcileFixture) order(t *testing.T) marketplace.Order {
	t.Helper()
	o, err := f.st.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)
	return o
}

func paymentNote(id string) marketplace.Notification {
	return marketplace.Notification{Type: "payment", PaymentID: id}
}

func requireWebhookError(t *testing.T, err error, kind error, status int) *marketplace.WebhookError {
	t.Helper()
	require.ErrorIs(t, err, kind)
	var we *marketplace.WebhookError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, status, we.HTTPStatus)
	return we
}

func TestReconcileApprovedDecrementsStockOnce(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(t)
	f.gw.pay("pay-1", "order-1", marketplace.StatusApproved)

	rep, err := f.rec.Handle(ctx, paymentNote("pay-1"))
	require.NoError(t, err)
	assert.Equal(t, marketplace.TransitionApprove, rep.Transition)
	assert.Equal(t, marketplace.StatusPending, rep.Previous)
	require.Len(t, rep.Lines, 1)
	assert.Equal(t, marketplace.LineDecremented, rep.Lines[0].Outcome)
	assert.Equal(t, marketplace.StatusApproved, f.order(t).Status)
	assert.Equal(t, 8, productStock(f.st, "p1"))

	rep, err = f.rec.Handle(ctx, paymentNote("pay-1"))
	require.NoError(t, err)
	assert.Equal(t, marketplace.TransitionReplay, rep.Transition)
	assert.Empty(t, rep.Lines)
	assert.Equal(t, 8, productStock(f.st, "p1"))
	assert.Equal(t, marketplace.StatusApproved, f.order(t).Status)

	assert.Len(t, f.sink.ofType(marketplace.EventPaymentStatusChanged), 1)
	assert.Empty(t, f.sink.ofType(marketplace.EventStockShortfall))
	require.Len(t, f.cache.puts, 1)
	assert.Equal(t, marketplace.StatusApproved, f.cache.puts[0].Status)
}

func TestReconcileConcurrentApprovalsDecrementOnce(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(t)
	f.gw.pay("pay-1", "order-1", marketplace.StatusApproved)

	var wg sync.WaitGroup
	approvals := make(chan marketplace.Transition, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rep, err := f.rec.Handle(ctx, paymentNote("pay-1"))
			if err == nil {
				approvals <- rep.Transition
			}
		}()
	}
	wg.Wait()
	close(approvals)

	n := 0
	for tr := range approvals {
		if tr == marketplace.TransitionApprove {
			n++
		}
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, 8, productStock(f.st, "p1"))
}

func TestReconcileNonApprovedTransitionTouchesNoStock(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(t)
	f.gw.pay("pay-1", "order-1", marketplace.StatusInProcess)

	rep, err := f.rec.Handle(ctx, paymentNote("pay-1"))
	require.NoError(t, err)
	assert.Equal(t, marketplace.TransitionUpdate, rep.Transition)
	assert.Equal(t, marketplace.StatusInProcess, f.order(t).Status)
	assert.Equal(t, 10, productStock(f.st, "p1"))

	rep, err = f.rec.Handle(ctx, paymentNote("pay-1"))
	require.NoError(t, err)
	assert.Equal(t, marketplace.TransitionNone, rep.Transition)
	assert.Len(t, f.sink.ofType(marketplace.EventPaymentStatusChanged), 1)
}

func TestReconcileOutOfOrderDeliveryAfterApproval(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(t)
	f.gw.pay("pay-1", "order-1", marketplace.StatusApproved)
	_, err := f.rec.Handle(ctx, paymentNote("pay-1"))
	require.NoError(t, err)

	f.gw.pay("pay-0", "order-1", marketplace.StatusRejected)
	_, err = f.rec.Handle(ctx, paymentNote("pay-0"))
	require.NoError(t, err)
	assert.Equal(t, marketplace.StatusRejected, f.order(t).Status)

	// Re-approval restores the status but stock moves only once per order.
	rep, err := f.rec.Handle(ctx, paymentNote("pay-1"))
	require.NoError(t, err)
	assert.Equal(t, marketplace.TransitionApprove, rep.Transition)
	assert.Empty(t, rep.Lines)
	assert.Equal(t, marketplace.StatusApproved, f.order(t).Status)
	assert.True(t, f.order(t).Fulfilled)
	assert.Equal(t, 8, productStock(f.st, "p1"))
}

func TestReconcileInsufficientStockSkipsLine(t *testing.T) {
	ctx := context.Background()
	st := seed()
	gw := newFakeGateway()
	fillCart(t, st, "b1", map[string]int{"p1": 2, "p2": 3})
	_, err := newCheckout(st, gw, nil).Run(ctx, "b1", "s1")
	require.NoError(t, err)
	st.PutProduct(marketplace.Product{ID: "p1", SellerID: "s1", Price: money("150.75"), Stock: 1})

	sink := &recordingSink{}
	rec := &marketplace.Reconciler{Gateway: gw, Orders: st, Events: sink}
	gw.pay("pay-1", "order-1", marketplace.StatusApproved)
	rep, err := rec.Handle(ctx, paymentNote("pay-1"))
	require.NoError(t, err)

	short := rep.Shortfalls()
	require.Len(t, short, 1)
	assert.Equal(t, "p1", short[0].ProductID)
	assert.Equal(t, marketplace.LineInsufficientStock, short[0].Outcome)
	assert.Equal(t, 1, short[0].Available)
	assert.Equal(t, 1, productStock(st, "p1"))
	assert.Equal(t, 7, productStock(st, "p2"))

	o, _ := st.GetOrder(ctx, "order-1")
	assert.Equal(t, marketplace.StatusApproved, o.Status)

	events := sink.ofType(marketplace.EventStockShortfall)
	require.Len(t, events, 1)
	payload := events[0].Payload.(marketplace.StockShortfallPayload)
	assert.Equal(t, "insufficient_stock", payload.Details[0].Reason)
}

func TestReconcileApprovalCleansLeftoverCartLines(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(t)
	// the buyer re-added the product after checking out
	fillCart(t, f.st, "b1", map[string]int{"p1": 1, "p3": 1})
	f.gw.pay("pay-1", "order-1", marketplace.StatusApproved)

	rep, err := f.rec.Handle(ctx, paymentNote("pay-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.CartLinesRemoved)

	cart, err := f.st.LoadCart(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, "p3", cart.Lines[0].Product.ID)
}

func TestReconcileIgnoresNonPaymentEvents(t *testing.T) {
	f := newReconcileFixture(t)
	rep, err := f.rec.Handle(context.Background(), marketplace.Notification{Type: "merchant_order", PaymentID: "x"})
	require.NoError(t, err)
	assert.True(t, rep.Ignored)
	assert.Zero(t, f.gw.lookups)
	assert.Equal(t, marketplace.StatusPending, f.order(t).Status)
}

func TestReconcileErrors(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(t)

	_, err := f.rec.Handle(ctx, paymentNote("  "))
	we := requireWebhookError(t, err, marketplace.ErrMissingPaymentID, http.StatusBadRequest)
	assert.Equal(t, "ID de pagamento não encontrado", we.Message)

	_, err = f.rec.Handle(ctx, paymentNote("unknown"))
	requireWebhookError(t, err, marketplace.ErrUpstreamNotFound, http.StatusNotFound)

	f.gw.payments["no-ref"] = marketplace.Payment{HTTPStatus: http.StatusOK, Status: marketplace.StatusApproved}
	_, err = f.rec.Handle(ctx, paymentNote("no-ref"))
	we = requireWebhookError(t, err, marketplace.ErrMissingReference, http.StatusBadRequest)
	assert.Equal(t, "Referência externa não encontrada", we.Message)

	f.gw.pay("orphan", "order-404", marketplace.StatusApproved)
	_, err = f.rec.Handle(ctx, paymentNote("orphan"))
	we = requireWebhookError(t, err, marketplace.ErrOrderNotFound, http.StatusNotFound)
	assert.Contains(t, we.Message, "order-404")

	f.gw.lookupErr = errors.New("dial tcp: timeout")
	_, err = f.rec.Handle(ctx, paymentNote("pay-1"))
	we = requireWebhookError(t, err, marketplace.ErrInternal, http.StatusInternalServerError)
	assert.Equal(t, "internal error", we.Message)

	assert.Equal(t, marketplace.StatusPending, f.order(t).Status)
	assert.Equal(t, 10, productStock(f.st, "p1"))
}

func TestReconcileRecoversPanics(t *testing.T) {
	f := newReconcileFixture(t)
	f.gw.pay("pay-1", "order-1", marketplace.StatusApproved)
	f.gw.lookupHook = func() { panic("boom") }

	_, err := f.rec.Handle(context.Background(), paymentNote("pay-1"))
	requireWebhookError(t, err, marketplace.ErrInternal, http.StatusInternalServerError)
}

func TestNextTransition(t *testing.T) {
	cases := []struct {
		current, incoming marketplace.Status
		want              marketplace.Transition
	}{
		{marketplace.StatusPending, marketplace.StatusApproved, marketplace.TransitionApprove},
		{marketplace.StatusRejected, marketplace.StatusApproved, marketplace.TransitionApprove},
		{marketplace.StatusApproved, marketplace.StatusApproved, marketplace.TransitionReplay},
		{marketplace.StatusPending, marketplace.StatusInProcess, marketplace.TransitionUpdate},
		{marketplace.StatusApproved, marketplace.StatusRefunded, marketplace.TransitionUpdate},
		{marketplace.StatusPending, marketplace.StatusPending, marketplace.TransitionNone},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, marketplace.NextTransition(c.current, c.incoming), "%s -> %s", c.current, c.incoming)
	}
}

func TestExpirerSweepsStalePendingOrders(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(t) // order-1 created 2026-01-02 03:04:05
	cache := &recordingCache{}
	exp := &marketplace.Expirer{
		Orders: f.st,
		Cache:  cache,
		Events: f.sink,
		TTL:    time.Hour,
		Now:    func() time.Time { return time.Date(2026, 1, 2, 3, 30, 0, 0, time.UTC) },
	}

	n, err := exp.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "not stale yet")

	exp.Now = func() time.Time { return time.Date(2026, 1, 2, 5, 0, 0, 0, time.UTC) }
	n, err = exp.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, marketplace.StatusExpired, f.order(t).Status)
	assert.Len(t, f.sink.ofType(marketplace.EventOrderExpired), 1)

	n, err = exp.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// payment is authoritative: a late approval still fulfils the order
	f.gw.pay("pay-1", "order-1", marketplace.StatusApproved)
	_, err = f.rec.Handle(ctx, paymentNote("pay-1"))
	require.NoError(t, err)
	assert.Equal(t, 8, productStock(f.st, "p1"))
}

func TestExpirerLogsCacheFailure(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(t)
	core, logs := observer.New(zapcore.WarnLevel)
	exp := &marketplace.Expirer{
		Orders: f.st,
		Cache:  &recordingCache{failed: true},
		TTL:    time.Hour,
		Log:    zap.New(core),
		Now:    func() time.Time { return time.Date(2026, 1, 2, 5, 0, 0, 0, time.UTC) },
	}

	n, err := exp.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a cache failure does not undo the expiry")
	assert.Equal(t, marketplace.StatusExpired, f.order(t).Status)

	warned := logs.FilterMessage("status cache update failed").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "order-1", warned[0].ContextMap()["order_id"])
}
