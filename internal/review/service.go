// Package review records stock shortfalls reported by payment reconciliation
// so an operator can settle them by hand.
package review

import (
	"context"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-marketplace/internal/kafka"
	"github.com/ariefcatur/go-marketplace/internal/marketplace"
	"github.com/ariefcatur/go-marketplace/internal/redisx"
)

// Recorder is satisfied by *postgres.Store.
type Recorder interface {
	RecordShortfalls(ctx context.Context, eventID, orderID string, details []marketplace.StockShortfallDetail) (int, error)
}

type Service struct {
	Store       Recorder
	Redis       redis.Cmdable // optional fast-path dedup; the store ignores repeats anyway
	ServiceName string
	Log         *zap.Logger
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// HandleShortfall is installed as the consumer handler for the shortfall topic.
func (s *Service) HandleShortfall(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		return err
	}
	if env.EventType != marketplace.EventStockShortfall {
		return nil
	}

	var dkey string
	if s.Redis != nil {
		dkey = redisx.DedupKey(s.ServiceName, env.EventID)
		claimed, err := redisx.Claim(ctx, s.Redis, dkey, redisx.TTLDedup)
		if err != nil {
			s.log().Warn("dedup unavailable, relying on store", zap.Error(err))
			dkey = ""
		} else if !claimed {
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[marketplace.StockShortfallPayload](env.Payload)
	if err != nil {
		s.release(ctx, dkey)
		return err
	}
	n, err := s.Store.RecordShortfalls(ctx, env.EventID, p.OrderID, p.Details)
	if err != nil {
		s.release(ctx, dkey)
		return err
	}
	for _, d := range p.Details {
		s.log().Warn("stock shortfall awaiting review",
			zap.String("event_id", env.EventID),
			zap.String("order_id", p.OrderID),
			zap.String("payment_id", p.PaymentID),
			zap.String("product_id", d.ProductID),
			zap.Int("required", d.Required),
			zap.Int("available", d.Available),
			zap.String("reason", d.Reason))
	}
	s.log().Info("shortfall recorded",
		zap.String("order_id", p.OrderID), zap.Int("new_rows", n))
	return nil
}

func (s *Service) release(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := redisx.Release(ctx, s.Redis, key); err != nil {
		s.log().Warn("release dedup claim", zap.String("key", key), zap.Error(err))
	}
}
