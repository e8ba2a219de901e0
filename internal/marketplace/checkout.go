package marketplace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Checkout turns one seller's share of a buyer's cart into an order and a
// gateway payment link.
type Checkout struct {
	Sellers  SellerRepo
	Carts    CartRepo
	Orders   OrderRepo
	Gateway  PreferenceCreator
	Events   EventSink
	FeeRate  decimal.Decimal
	Currency string
	Log      *zap.Logger

	Now   func() time.Time
	NewID func() string
}

type CheckoutResult struct {
	OrderID     string
	RedirectURL string
	Total       decimal.Decimal
	Fee         decimal.Decimal
	Lines       int
}

// Commission is the marketplace fee on a seller subtotal, rounded half-even
// to cents.
func Commission(subtotal, rate decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(rate).RoundBank(2)
}

func (c *Checkout) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

func (c *Checkout) newID() string {
	if c.NewID != nil {
		return c.NewID()
	}
	return uuid.NewString()
}

func (c *Checkout) log() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

// Run materializes the order for (buyerID, sellerID) and asks the gateway for
// a payment link. Gateway failures leave the order pending and the cart
// untouched; the expiry sweep picks such orders up.
func (c *Checkout) Run(ctx context.Context, buyerID, sellerID string) (CheckoutResult, error) {
	seller, err := c.Sellers.GetSeller(ctx, sellerID)
	switch {
	case errors.Is(err, ErrNotFound):
		return CheckoutResult{}, &CheckoutError{Kind: ErrConfiguration,
			Message: "Vendedor não encontrado."}
	case err != nil:
		return CheckoutResult{}, fmt.Errorf("load seller %s: %w", sellerID, err)
	case seller.PaymentCredential == "":
		return CheckoutResult{}, &CheckoutError{Kind: ErrConfiguration,
			Message: fmt.Sprintf("O vendedor '%s' não está configurado para receber pagamentos.", seller.Name)}
	}

	cart, err := c.Carts.LoadCart(ctx, buyerID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return CheckoutResult{}, fmt.Errorf("load cart: %w", err)
	}
	var selected []CartLine
	if cart != nil {
		selected = cart.LinesForSeller(sellerID)
	}
	if len(selected) == 0 {
		return CheckoutResult{}, &CheckoutError{Kind: ErrEmptyCartForSeller,
			Message: "Itens não encontrados no carrinho para este vendedor."}
	}

	now := c.now()
	order := Order{
		ID:        c.newID(),
		SellerID:  sellerID,
		BuyerID:   buyerID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	lines := make([]OrderLine, 0, len(selected))
	items := make([]PreferenceItem, 0, len(selected))
	productIDs := make([]string, 0, len(selected))
	for _, l := range selected {
		qty := l.Quantity
		if qty > l.Product.Stock {
			qty = l.Product.Stock
		}
		if qty < 1 {
			continue
		}
		lines = append(lines, OrderLine{
			OrderID:   order.ID,
			ProductID: l.Product.ID,
			Quantity:  qty,
			UnitPrice: l.Product.Price,
		})
		items = append(items, PreferenceItem{
			ID:         l.Product.ID,
			Title:      l.Product.Title,
			Quantity:   qty,
			CurrencyID: c.Currency,
			UnitPrice:  l.Product.Price,
		})
		productIDs = append(productIDs, l.Product.ID)
	}
	if len(lines) == 0 {
		return CheckoutResult{}, &CheckoutError{Kind: ErrEmptyCartForSeller,
			Message: "Os itens deste vendedor estão sem estoque."}
	}
	order.Total = OrderTotal(lines)
	fee := Commission(order.Total, c.FeeRate)

	if err := c.Orders.CreateOrder(ctx, order, lines); err != nil {
		return CheckoutResult{}, fmt.Errorf("create order: %w", err)
	}

	url, err := c.Gateway.CreatePreference(ctx, seller.PaymentCredential, Preference{
		Items:             items,
		ExternalReference: order.ExternalReference(),
		Fee:               fee,
	})
	if err != nil {
		c.log().Error("payment preference failed, order left pending",
			zap.String("order_id", order.ID),
			zap.String("seller_id", sellerID),
			zap.Error(err))
		return CheckoutResult{}, &CheckoutError{Kind: ErrGateway,
			Message: "Não foi possível gerar o link de pagamento. Tente novamente.", Err: err}
	}

	// The link is live at this point. A cart cleanup failure is repaired by
	// the approval side of reconciliation.
	if _, err := c.Carts.RemoveProducts(ctx, buyerID, productIDs); err != nil {
		c.log().Error("cart cleanup after checkout failed",
			zap.String("order_id", order.ID), zap.Error(err))
	}

	payload := OrderCreatedPayload{
		OrderID:  order.ID,
		SellerID: sellerID,
		BuyerID:  buyerID,
		Total:    order.Total.StringFixed(2),
		Fee:      fee.StringFixed(2),
	}
	for _, l := range lines {
		payload.Items = append(payload.Items, ItemPrice{ProductID: l.ProductID, Qty: l.Quantity, UnitPrice: l.UnitPrice.StringFixed(2)})
	}
	if err := sinkOrNop(c.Events).Emit(ctx, EventOrderCreated, order.ID, payload); err != nil {
		c.log().Warn("emit order created", zap.String("order_id", order.ID), zap.Error(err))
	}

	c.log().Info("checkout created",
		zap.String("order_id", order.ID),
		zap.String("buyer_id", buyerID),
		zap.String("seller_id", sellerID),
		zap.String("total", order.Total.StringFixed(2)),
		zap.String("fee", fee.StringFixed(2)))

	return CheckoutResult{
		OrderID:     order.ID,
		RedirectURL: url,
		Total:       order.Total,
		Fee:         fee,
		Lines:       len(lines),
	}, nil
}
