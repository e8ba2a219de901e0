package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-marketplace/internal/marketplace"
)

// CachedStatus is what GET /orders/{id} serves without touching the database.
type CachedStatus struct {
	OrderID   string             `json:"order_id"`
	Status    marketplace.Status `json:"status"`
	BuyerID   string             `json:"buyer_id"`
	SellerID  string             `json:"seller_id"`
	Total     string             `json:"total"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func NewCachedStatus(o marketplace.Order) CachedStatus {
	return CachedStatus{
		OrderID:   o.ID,
		Status:    o.Status,
		BuyerID:   o.BuyerID,
		SellerID:  o.SellerID,
		Total:     o.Total.StringFixed(2),
		UpdatedAt: o.UpdatedAt,
	}
}

// StatusCache implements marketplace.StatusCache on Redis.
type StatusCache struct {
	RDB redis.Cmdable
	TTL time.Duration
}

func NewStatusCache(rdb redis.Cmdable) *StatusCache {
	return &StatusCache{RDB: rdb, TTL: TTLStatusCache}
}

func statusKey(orderID string) string { return fmt.Sprintf(KeyOrderStatus, orderID) }

func (c *StatusCache) Put(ctx context.Context, o marketplace.Order) error {
	b, err := json.Marshal(NewCachedStatus(o))
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, statusKey(o.ID), b, c.TTL).Err()
}

// Get reports ok=false on a cache miss.
func (c *StatusCache) Get(ctx context.Context, orderID string) (CachedStatus, bool, error) {
	var cs CachedStatus
	b, err := c.RDB.Get(ctx, statusKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return cs, false, nil
	}
	if err != nil {
		return cs, false, err
	}
	if err := json.Unmarshal(b, &cs); err != nil {
		return cs, false, fmt.Errorf("decode cached status %s: %w", orderID, err)
	}
	return cs, true, nil
}

var _ marketplace.StatusCache = (*StatusCache)(nil)
