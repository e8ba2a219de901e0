package marketplace_test

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-marketplace/internal/marketplace"
	"github.com/ariefcatur/go-marketplace/internal/memstore"
)

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeGateway struct {
	mu          sync.Mutex
	url         string
	createErr   error
	credentials []string
	preferences []marketplace.Preference

	payments   map[string]marketplace.Payment
	lookupErr  error
	lookups    int
	lookupHook func()
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{url: "https://gateway.test/checkout/1", payments: map[string]marketplace.Payment{}}
}

func (g *fakeGateway) CreatePreference(_ context.Context, credential string, p marketplace.Preference) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.credentials = append(g.credentials, credential)
	g.preferences = append(g.preferences, p)
	if g.createErr != nil {
		return "", g.createErr
	}
	return g.url, nil
}

func (g *fakeGateway) GetPayment(_ context.Context, id string) (marketplace.Payment, error) {
	g.mu.Lock()
	g.lookups++
	hook := g.lookupHook
	p, ok := g.payments[id]
	err := g.lookupErr
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return marketplace.Payment{}, err
	}
	if !ok {
		return marketplace.Payment{HTTPStatus: http.StatusNotFound}, nil
	}
	return p, nil
}

func (g *fakeGateway) pay(id, orderID string, status marketplace.Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[id] = marketplace.Payment{HTTPStatus: http.StatusOK, Status: status, ExternalReference: orderID}
}

type event struct {
	Type    string
	OrderID string
	Payload any
}

type recordingSink struct {
	mu     sync.Mutex
	events []event
}

func (s *recordingSink) Emit(_ context.Context, eventType, orderID string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event{eventType, orderID, payload})
	return nil
}

func (s *recordingSink) ofType(t string) []event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type recordingCache struct {
	mu     sync.Mutex
	puts   []marketplace.Order
	failed bool
}

func (c *recordingCache) Put(_ context.Context, o marketplace.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts = append(c.puts, o)
	if c.failed {
		return errors.New("cache down")
	}
	return nil
}

// seed builds a store with two sellers, one without a payment credential.
func seed() *memstore.Store {
	st := memstore.New()
	st.PutSeller(marketplace.Seller{ID: "s1", Name: "Loja Um", PaymentCredential: "APP_USR-seller-1"})
	st.PutSeller(marketplace.Seller{ID: "s2", Name: "Loja Dois"})
	st.PutProduct(marketplace.Product{ID: "p1", SellerID: "s1", Title: "Teclado", Price: money("150.75"), Stock: 10})
	st.PutProduct(marketplace.Product{ID: "p2", SellerID: "s1", Title: "Mouse", Price: money("50.00"), Stock: 10})
	st.PutProduct(marketplace.Product{ID: "p3", SellerID: "s2", Title: "Monitor", Price: money("900.00"), Stock: 3})
	return st
}

func productStock(st *memstore.Store, id string) int {
	p, err := st.GetProduct(context.Background(), id)
	if err != nil {
		return -1
	}
	return p.Stock
}
