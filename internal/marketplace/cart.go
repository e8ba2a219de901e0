package marketplace

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"
)

type CartLine struct {
	Product  Product
	Quantity int
}

func (l CartLine) Subtotal() decimal.Decimal {
	return l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is a buyer's set of lines, at most one per product.
type Cart struct {
	ID      string
	BuyerID string
	Lines   []CartLine
}

func NewCart(buyerID string) *Cart { return &Cart{BuyerID: buyerID} }

func (c *Cart) index(productID string) int {
	for i, l := range c.Lines {
		if l.Product.ID == productID {
			return i
		}
	}
	return -1
}

// Line returns the line for a product, if any.
func (c *Cart) Line(productID string) (CartLine, bool) {
	if i := c.index(productID); i >= 0 {
		return c.Lines[i], true
	}
	return CartLine{}, false
}

// AddLine adds delta units of p, clamping the line at p.Stock. Requests above
// stock are truncated, never rejected. A product with no stock leaves the
// cart unchanged.
func (c *Cart) AddLine(p Product, delta int) {
	if delta < 1 {
		return
	}
	i := c.index(p.ID)
	current := 0
	if i >= 0 {
		current = c.Lines[i].Quantity
	}
	qty := p.Stock
	if delta <= p.Stock-current {
		qty = current + delta
	}
	switch {
	case qty < 1 && i >= 0:
		c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
	case qty < 1:
	case i >= 0:
		c.Lines[i] = CartLine{Product: p, Quantity: qty}
	default:
		c.Lines = append(c.Lines, CartLine{Product: p, Quantity: qty})
	}
}

// RemoveOne takes one unit off the product's line, dropping the line at zero.
func (c *Cart) RemoveOne(productID string) bool {
	i := c.index(productID)
	if i < 0 {
		return false
	}
	if c.Lines[i].Quantity > 1 {
		c.Lines[i].Quantity--
		return true
	}
	c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
	return true
}

func (c *Cart) DeleteLine(productID string) bool {
	i := c.index(productID)
	if i < 0 {
		return false
	}
	c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
	return true
}

func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

func (c *Cart) LinesForSeller(sellerID string) []CartLine {
	var out []CartLine
	for _, l := range c.Lines {
		if l.Product.SellerID == sellerID {
			out = append(out, l)
		}
	}
	return out
}

type SellerGroup struct {
	SellerID string
	Lines    []CartLine
	Subtotal decimal.Decimal
}

// BySeller groups the lines per seller, ordered by seller id.
func (c *Cart) BySeller() []SellerGroup {
	idx := map[string]int{}
	var groups []SellerGroup
	for _, l := range c.Lines {
		i, ok := idx[l.Product.SellerID]
		if !ok {
			i = len(groups)
			idx[l.Product.SellerID] = i
			groups = append(groups, SellerGroup{SellerID: l.Product.SellerID, Subtotal: decimal.Zero})
		}
		groups[i].Lines = append(groups[i].Lines, l)
		groups[i].Subtotal = groups[i].Subtotal.Add(l.Subtotal())
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a].SellerID < groups[b].SellerID })
	return groups
}

// CartService applies cart operations against the stores.
type CartService struct {
	Products ProductRepo
	Carts    CartRepo
}

func (s *CartService) load(ctx context.Context, buyerID string) (*Cart, bool, error) {
	c, err := s.Carts.LoadCart(ctx, buyerID)
	if errors.Is(err, ErrNotFound) {
		return NewCart(buyerID), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// View returns the buyer's cart, empty when none exists.
func (s *CartService) View(ctx context.Context, buyerID string) (*Cart, error) {
	c, _, err := s.load(ctx, buyerID)
	return c, err
}

// Add creates the cart lazily and adds delta units of the product.
func (s *CartService) Add(ctx context.Context, buyerID, productID string, delta int) error {
	p, err := s.Products.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	c, _, err := s.load(ctx, buyerID)
	if err != nil {
		return err
	}
	c.AddLine(p, delta)
	return s.Carts.SaveCart(ctx, c)
}

// RemoveOne is a no-op when the buyer has no cart or no line for the product.
func (s *CartService) RemoveOne(ctx context.Context, buyerID, productID string) error {
	return s.mutate(ctx, buyerID, func(c *Cart) bool { return c.RemoveOne(productID) })
}

// Delete is a no-op when the buyer has no cart or no line for the product.
func (s *CartService) Delete(ctx context.Context, buyerID, productID string) error {
	return s.mutate(ctx, buyerID, func(c *Cart) bool { return c.DeleteLine(productID) })
}

func (s *CartService) mutate(ctx context.Context, buyerID string, fn func(*Cart) bool) error {
	c, exists, err := s.load(ctx, buyerID)
	if err != nil || !exists {
		return err
	}
	if !fn(c) {
		return nil
	}
	return s.Carts.SaveCart(ctx, c)
}
