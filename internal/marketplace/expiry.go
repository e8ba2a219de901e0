package marketplace

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Expirer closes orders whose payment link was never used. It replaces a
// per-order delayed check with a periodic sweep over pending orders.
type Expirer struct {
	Orders OrderRepo
	Cache  StatusCache
	Events EventSink
	TTL    time.Duration
	Log    *zap.Logger
	Now    func() time.Time
	// Observe, when set, receives the count of every successful sweep.
	Observe func(expired int)
}

func (e *Expirer) log() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

// Sweep marks every order pending for longer than TTL as expired and returns
// how many were changed. Orders that moved on since the listing are skipped.
func (e *Expirer) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	if e.Now != nil {
		now = e.Now()
	}
	stale, err := e.Orders.ListPending(ctx, now.Add(-e.TTL))
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}
	expired := 0
	for _, candidate := range stale {
		var changed Order
		err := e.Orders.WithOrderLock(ctx, candidate.ID, func(ctx context.Context, o Order, tx OrderTx) error {
			if o.Status != StatusPending {
				return nil
			}
			if err := tx.SetStatus(ctx, o.ID, StatusExpired); err != nil {
				return err
			}
			changed = o
			changed.Status = StatusExpired
			return nil
		})
		if err != nil {
			e.log().Error("expire order", zap.String("order_id", candidate.ID), zap.Error(err))
			continue
		}
		if changed.ID == "" {
			continue
		}
		expired++
		if e.Cache != nil {
			if err := e.Cache.Put(ctx, changed); err != nil {
				e.log().Warn("status cache update failed", zap.String("order_id", changed.ID), zap.Error(err))
			}
		}
		if err := sinkOrNop(e.Events).Emit(ctx, EventOrderExpired, changed.ID, OrderExpiredPayload{
			OrderID: changed.ID, PendingSince: changed.CreatedAt,
		}); err != nil {
			e.log().Warn("emit order expired", zap.String("order_id", changed.ID), zap.Error(err))
		}
	}
	if expired > 0 {
		e.log().Info("expired pending orders", zap.Int("count", expired))
	}
	return expired, nil
}

// Run sweeps every interval until ctx is done.
func (e *Expirer) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		n, err := e.Sweep(ctx)
		if err != nil {
			e.log().Error("pending order sweep", zap.Error(err))
		} else if e.Observe != nil {
			e.Observe(n)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
