package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-marketplace/internal/marketplace"
	"github.com/ariefcatur/go-marketplace/internal/postgres"
)

// Runs against a real database when MARKETPLACE_TEST_POSTGRES_DSN is set.
func newStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("MARKETPLACE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MARKETPLACE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	db, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, postgres.Migrate(ctx, db))
	require.NoError(t, postgres.Migrate(ctx, db), "migration is idempotent")
	return &postgres.Store{DB: db}
}

type fixture struct {
	seller, p1, p2, buyer string
}

func seed(t *testing.T, st *postgres.Store) fixture {
	t.Helper()
	ctx := context.Background()
	f := fixture{seller: uuid.NewString(), p1: uuid.NewString(), p2: uuid.NewString(), buyer: uuid.NewString()}
	require.NoError(t, st.UpsertSeller(ctx, marketplace.Seller{ID: f.seller, Name: "Loja", PaymentCredential: "APP_USR-x"}))
	require.NoError(t, st.UpsertProduct(ctx, marketplace.Product{ID: f.p1, SellerID: f.seller, Title: "Teclado", Price: decimal.RequireFromString("150.75"), Stock: 10}))
	require.NoError(t, st.UpsertProduct(ctx, marketplace.Product{ID: f.p2, SellerID: f.seller, Title: "Mouse", Price: decimal.RequireFromString("50.00"), Stock: 1}))
	return f
}

func TestCartRoundTrip(t *testing.T) {
	st := newStore(t)
	f := seed(t, st)
	ctx := context.Background()

	_, err := st.LoadCart(ctx, f.buyer)
	require.ErrorIs(t, err, marketplace.ErrNotFound)

	svc := &marketplace.CartService{Products: st, Carts: st}
	require.NoError(t, svc.Add(ctx, f.buyer, f.p1, 2))
	require.NoError(t, svc.Add(ctx, f.buyer, f.p2, 1))

	c, err := st.LoadCart(ctx, f.buyer)
	require.NoError(t, err)
	require.Len(t, c.Lines, 2)
	assert.Equal(t, f.p1, c.Lines[0].Product.ID)
	assert.Equal(t, "351.50", c.Total().StringFixed(2))

	n, err := st.RemoveProducts(ctx, f.buyer, []string{f.p1})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOrderLockDecrementsOnce(t *testing.T) {
	st := newStore(t)
	f := seed(t, st)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	orderID := uuid.NewString()
	require.NoError(t, st.CreateOrder(ctx, marketplace.Order{
		ID: orderID, SellerID: f.seller, BuyerID: f.buyer, Status: marketplace.StatusPending,
		Total: decimal.RequireFromString("351.50"), CreatedAt: now, UpdatedAt: now,
	}, []marketplace.OrderLine{
		{OrderID: orderID, ProductID: f.p1, Quantity: 2, UnitPrice: decimal.RequireFromString("150.75")},
		{OrderID: orderID, ProductID: f.p2, Quantity: 2, UnitPrice: decimal.RequireFromString("50.00")},
	}))

	gw := paymentsFor(orderID)
	rc := &marketplace.Reconciler{Gateway: gw, Orders: st}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rc.Handle(ctx, marketplace.Notification{Type: "payment", PaymentID: "1"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p1, err := st.GetProduct(ctx, f.p1)
	require.NoError(t, err)
	assert.Equal(t, 8, p1.Stock)
	p2, err := st.GetProduct(ctx, f.p2)
	require.NoError(t, err)
	assert.Equal(t, 1, p2.Stock, "insufficient line is skipped")

	o, err := st.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, marketplace.StatusApproved, o.Status)
	assert.True(t, o.Fulfilled)
	assert.Equal(t, "351.50", o.Total.StringFixed(2))

	err = st.WithOrderLock(ctx, "missing-"+orderID, func(context.Context, marketplace.Order, marketplace.OrderTx) error { return nil })
	assert.ErrorIs(t, err, marketplace.ErrOrderNotFound)
}

func TestListPendingAndShortfalls(t *testing.T) {
	st := newStore(t)
	f := seed(t, st)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	orderID := uuid.NewString()
	require.NoError(t, st.CreateOrder(ctx, marketplace.Order{
		ID: orderID, SellerID: f.seller, BuyerID: f.buyer, Status: marketplace.StatusPending,
		Total: decimal.Zero, CreatedAt: old, UpdatedAt: old,
	}, nil))

	pending, err := st.ListPending(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	ids := make([]string, 0, len(pending))
	for _, o := range pending {
		ids = append(ids, o.ID)
	}
	assert.Contains(t, ids, orderID)

	details := []marketplace.StockShortfallDetail{{ProductID: f.p2, Required: 2, Available: 1, Reason: "insufficient_stock"}}
	n, err := st.RecordShortfalls(ctx, "ev-"+orderID, orderID, details)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = st.RecordShortfalls(ctx, "ev-"+orderID, orderID, details)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "redelivery adds nothing")

	rows, err := st.ListShortfalls(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Available)
}

type staticPayments struct{ p marketplace.Payment }

func (s staticPayments) GetPayment(context.Context, string) (marketplace.Payment, error) {
	return s.p, nil
}

func paymentsFor(orderID string) staticPayments {
	return staticPayments{marketplace.Payment{HTTPStatus: 200, Status: marketplace.StatusApproved, ExternalReference: orderID}}
}
