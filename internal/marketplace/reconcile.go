package marketplace

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const NotificationTypePayment = "payment"

// Notification is an inbound gateway event reduced to what reconciliation needs.
type Notification struct {
	Type      string
	PaymentID string
}

type LineOutcome string

const (
	LineDecremented       LineOutcome = "decremented"
	LineInsufficientStock LineOutcome = "skipped_insufficient_stock"
	LineMissingProduct    LineOutcome = "skipped_missing_product"
)

type LineResult struct {
	ProductID string
	Quantity  int
	Available int
	Outcome   LineOutcome
}

// Report describes what one notification did.
type Report struct {
	Ignored          bool
	PaymentID        string
	OrderID          string
	Previous         Status
	Status           Status
	Transition       Transition
	Lines            []LineResult
	CartLinesRemoved int
}

// Shortfalls lists the approved lines whose stock was not decremented.
func (r Report) Shortfalls() []LineResult {
	var out []LineResult
	for _, l := range r.Lines {
		if l.Outcome != LineDecremented {
			out = append(out, l)
		}
	}
	return out
}

// Reconciler applies payment notifications to orders, stock and carts.
type Reconciler struct {
	Gateway PaymentLookup
	Orders  OrderRepo
	Cache   StatusCache
	Events  EventSink
	Log     *zap.Logger
}

func (r *Reconciler) log() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

// Handle processes one notification. Errors are always *WebhookError; panics
// are converted to ErrInternal. Replaying a notification is safe at any point.
func (r *Reconciler) Handle(ctx context.Context, n Notification) (rep Report, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log().Error("reconcile panic", zap.Any("panic", p), zap.String("payment_id", n.PaymentID))
			rep, err = Report{PaymentID: n.PaymentID}, internalError(fmt.Errorf("panic: %v", p))
		}
	}()

	if n.Type != NotificationTypePayment {
		return Report{Ignored: true}, nil
	}
	paymentID := strings.TrimSpace(n.PaymentID)
	if paymentID == "" {
		return Report{}, missingPaymentID()
	}
	rep.PaymentID = paymentID

	p, err := r.Gateway.GetPayment(ctx, paymentID)
	if err != nil {
		return rep, internalError(fmt.Errorf("get payment %s: %w", paymentID, err))
	}
	if p.HTTPStatus != http.StatusOK {
		return rep, upstreamNotFound(paymentID, p.HTTPStatus)
	}
	ref := strings.TrimSpace(p.ExternalReference)
	if ref == "" {
		return rep, missingReference()
	}
	if p.Status == "" {
		return rep, &WebhookError{Kind: ErrMissingReference, HTTPStatus: http.StatusBadRequest,
			Message: "Status de pagamento não encontrado"}
	}
	rep.OrderID = ref
	rep.Status = p.Status

	var updated Order
	err = r.Orders.WithOrderLock(ctx, ref, func(ctx context.Context, o Order, tx OrderTx) error {
		rep.Previous = o.Status
		rep.Transition = NextTransition(o.Status, p.Status)
		updated = o
		switch rep.Transition {
		case TransitionApprove:
			if err := tx.SetStatus(ctx, o.ID, StatusApproved); err != nil {
				return fmt.Errorf("set status: %w", err)
			}
			updated.Status = StatusApproved
			if o.Fulfilled {
				return nil
			}
			updated.Fulfilled = true
			return r.fulfil(ctx, tx, o, &rep)
		case TransitionUpdate:
			if err := tx.SetStatus(ctx, o.ID, p.Status); err != nil {
				return fmt.Errorf("set status: %w", err)
			}
			updated.Status = p.Status
		}
		return nil
	})
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return rep, orderNotFound(ref)
	case err != nil:
		return rep, internalError(fmt.Errorf("reconcile order %s: %w", ref, err))
	}

	r.afterCommit(ctx, updated, rep)
	return rep, nil
}

// fulfil decrements stock per line. A line without enough stock is skipped
// and reported; it does not block the rest of the order.
func (r *Reconciler) fulfil(ctx context.Context, tx OrderTx, o Order, rep *Report) error {
	if err := tx.MarkFulfilled(ctx, o.ID); err != nil {
		return fmt.Errorf("mark fulfilled: %w", err)
	}
	lines, err := tx.LinesFor(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("load lines: %w", err)
	}
	productIDs := make([]string, 0, len(lines))
	for _, l := range lines {
		productIDs = append(productIDs, l.ProductID)
		res := LineResult{ProductID: l.ProductID, Quantity: l.Quantity}
		available, ok, err := tx.DecrementStock(ctx, l.ProductID, l.Quantity)
		switch {
		case errors.Is(err, ErrProductNotFound):
			res.Outcome = LineMissingProduct
		case err != nil:
			return fmt.Errorf("decrement stock %s: %w", l.ProductID, err)
		case ok:
			res.Available, res.Outcome = available, LineDecremented
		default:
			res.Available, res.Outcome = available, LineInsufficientStock
		}
		if res.Outcome != LineDecremented {
			r.log().Warn("stock not decremented for approved order",
				zap.String("order_id", o.ID),
				zap.String("product_id", l.ProductID),
				zap.Int("required", l.Quantity),
				zap.Int("available", res.Available),
				zap.String("outcome", string(res.Outcome)))
		}
		rep.Lines = append(rep.Lines, res)
	}
	removed, err := tx.RemoveCartProducts(ctx, o.BuyerID, productIDs)
	if err != nil {
		return fmt.Errorf("cart cleanup: %w", err)
	}
	rep.CartLinesRemoved = removed
	return nil
}

func (r *Reconciler) afterCommit(ctx context.Context, o Order, rep Report) {
	log := r.log().With(
		zap.String("order_id", rep.OrderID),
		zap.String("payment_id", rep.PaymentID),
		zap.String("transition", rep.Transition.String()),
		zap.String("from", string(rep.Previous)),
		zap.String("to", string(rep.Status)))

	if rep.Transition != TransitionApprove && rep.Transition != TransitionUpdate {
		log.Info("payment notification already applied")
		return
	}
	if r.Cache != nil {
		if err := r.Cache.Put(ctx, o); err != nil {
			log.Warn("status cache update failed", zap.Error(err))
		}
	}
	sink := sinkOrNop(r.Events)
	if err := sink.Emit(ctx, EventPaymentStatusChanged, o.ID, PaymentStatusChangedPayload{
		OrderID: o.ID, PaymentID: rep.PaymentID, From: rep.Previous, To: o.Status,
	}); err != nil {
		log.Warn("emit payment status changed", zap.Error(err))
	}
	if short := rep.Shortfalls(); len(short) > 0 {
		payload := StockShortfallPayload{OrderID: o.ID, PaymentID: rep.PaymentID}
		for _, s := range short {
			reason := "insufficient_stock"
			if s.Outcome == LineMissingProduct {
				reason = "missing_product"
			}
			payload.Details = append(payload.Details, StockShortfallDetail{
				ProductID: s.ProductID, Required: s.Quantity, Available: s.Available, Reason: reason,
			})
		}
		if err := sink.Emit(ctx, EventStockShortfall, o.ID, payload); err != nil {
			log.Warn("emit stock shortfall", zap.Error(err))
		}
	}
	log.Info("payment notification applied",
		zap.Int("lines", len(rep.Lines)),
		zap.Int("shortfalls", len(rep.Shortfalls())),
		zap.Int("cart_lines_removed", rep.CartLinesRemoved))
}
