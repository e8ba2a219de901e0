// Package memstore keeps marketplace state in process memory. A single mutex
// serializes every operation, which also provides the per-order exclusion
// WithOrderLock promises.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-marketplace/internal/marketplace"
)

type cartLine struct {
	productID string
	qty       int
}

type cart struct {
	id    string
	lines []cartLine
}

type Store struct {
	mu       sync.Mutex
	sellers  map[string]marketplace.Seller
	products map[string]marketplace.Product
	carts    map[string]*cart // by buyer id
	orders   map[string]marketplace.Order
	lines    map[string][]marketplace.OrderLine
	now      func() time.Time
}

func New() *Store {
	return &Store{
		sellers:  map[string]marketplace.Seller{},
		products: map[string]marketplace.Product{},
		carts:    map[string]*cart{},
		orders:   map[string]marketplace.Order{},
		lines:    map[string][]marketplace.OrderLine{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) PutSeller(sl marketplace.Seller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sellers[sl.ID] = sl
}

func (s *Store) PutProduct(p marketplace.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// Orders returns a snapshot of all orders, oldest first.
func (s *Store) Orders() []marketplace.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]marketplace.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) GetSeller(_ context.Context, id string) (marketplace.Seller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.sellers[id]
	if !ok {
		return marketplace.Seller{}, marketplace.ErrNotFound
	}
	return sl, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (marketplace.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return marketplace.Product{}, marketplace.ErrProductNotFound
	}
	return p, nil
}

func (s *Store) LoadCart(_ context.Context, buyerID string) (*marketplace.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[buyerID]
	if !ok {
		return nil, marketplace.ErrNotFound
	}
	out := &marketplace.Cart{ID: c.id, BuyerID: buyerID}
	for _, l := range c.lines {
		p, ok := s.products[l.productID]
		if !ok {
			continue
		}
		out.Lines = append(out.Lines, marketplace.CartLine{Product: p, Quantity: l.qty})
	}
	return out, nil
}

func (s *Store) SaveCart(_ context.Context, c *marketplace.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.carts[c.BuyerID]
	if !ok {
		rec = &cart{id: uuid.NewString()}
		s.carts[c.BuyerID] = rec
	}
	c.ID = rec.id
	rec.lines = rec.lines[:0]
	for _, l := range c.Lines {
		rec.lines = append(rec.lines, cartLine{productID: l.Product.ID, qty: l.Quantity})
	}
	return nil
}

func (s *Store) RemoveProducts(_ context.Context, buyerID string, productIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeCartProducts(buyerID, productIDs), nil
}

func (s *Store) removeCartProducts(buyerID string, productIDs []string) int {
	c, ok := s.carts[buyerID]
	if !ok {
		return 0
	}
	drop := make(map[string]bool, len(productIDs))
	for _, id := range productIDs {
		drop[id] = true
	}
	kept := c.lines[:0]
	removed := 0
	for _, l := range c.lines {
		if drop[l.productID] {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	c.lines = kept
	return removed
}

func (s *Store) CreateOrder(_ context.Context, o marketplace.Order, lines []marketplace.OrderLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	s.lines[o.ID] = append([]marketplace.OrderLine(nil), lines...)
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (marketplace.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return marketplace.Order{}, marketplace.ErrOrderNotFound
	}
	return o, nil
}

func (s *Store) LinesFor(_ context.Context, orderID string) ([]marketplace.OrderLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]marketplace.OrderLine(nil), s.lines[orderID]...), nil
}

func (s *Store) ListPending(_ context.Context, createdBefore time.Time) ([]marketplace.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []marketplace.Order
	for _, o := range s.orders {
		if o.Status == marketplace.StatusPending && o.CreatedAt.Before(createdBefore) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) WithOrderLock(ctx context.Context, orderID string, fn func(context.Context, marketplace.Order, marketplace.OrderTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return marketplace.ErrOrderNotFound
	}
	t := &tx{s: s}
	defer func() {
		if p := recover(); p != nil {
			t.rollback()
			panic(p)
		}
	}()
	if err := fn(ctx, o, t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

// tx writes through to the maps and keeps undo steps for rollback.
type tx struct {
	s    *Store
	undo []func()
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}

func (t *tx) LinesFor(_ context.Context, orderID string) ([]marketplace.OrderLine, error) {
	return append([]marketplace.OrderLine(nil), t.s.lines[orderID]...), nil
}

func (t *tx) SetStatus(_ context.Context, orderID string, st marketplace.Status) error {
	prev, ok := t.s.orders[orderID]
	if !ok {
		return marketplace.ErrOrderNotFound
	}
	o := prev
	o.Status = st
	o.UpdatedAt = t.s.now()
	t.s.orders[orderID] = o
	t.undo = append(t.undo, func() { t.s.orders[orderID] = prev })
	return nil
}

func (t *tx) MarkFulfilled(_ context.Context, orderID string) error {
	prev, ok := t.s.orders[orderID]
	if !ok {
		return marketplace.ErrOrderNotFound
	}
	o := prev
	o.Fulfilled = true
	t.s.orders[orderID] = o
	t.undo = append(t.undo, func() { t.s.orders[orderID] = prev })
	return nil
}

func (t *tx) DecrementStock(_ context.Context, productID string, qty int) (int, bool, error) {
	p, ok := t.s.products[productID]
	if !ok {
		return 0, false, marketplace.ErrProductNotFound
	}
	if p.Stock < qty {
		return p.Stock, false, nil
	}
	prev := p
	p.Stock -= qty
	t.s.products[productID] = p
	t.undo = append(t.undo, func() { t.s.products[productID] = prev })
	return prev.Stock, true, nil
}

func (t *tx) RemoveCartProducts(_ context.Context, buyerID string, productIDs []string) (int, error) {
	c, ok := t.s.carts[buyerID]
	if !ok {
		return 0, nil
	}
	prev := append([]cartLine(nil), c.lines...)
	n := t.s.removeCartProducts(buyerID, productIDs)
	t.undo = append(t.undo, func() { c.lines = prev })
	return n, nil
}

var (
	_ marketplace.SellerRepo  = (*Store)(nil)
	_ marketplace.ProductRepo = (*Store)(nil)
	_ marketplace.CartRepo    = (*Store)(nil)
	_ marketplace.OrderRepo   = (*Store)(nil)
)
