// Package cart keeps the pre-order shopping cart in Redis: one hash per
// customer, product id to quantity. The cart is scratch space; nothing here is
// part of an order until checkout creates one.
package cart

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/storeops/order-saga/internal/redisx"
	"github.com/storeops/order-saga/internal/store"
)

type Cart struct {
	Redis *redis.Client
}

func New(rdb *redis.Client) *Cart { return &Cart{Redis: rdb} }

func key(customerID string) string { return fmt.Sprintf(redisx.KeyCart, customerID) }

// AddItem adjusts the quantity of a product by delta (negative reduces).
// Dropping to zero or below removes the line.
func (c *Cart) AddItem(ctx context.Context, customerID, productID string, delta int) error {
	if customerID == "" || productID == "" {
		return fmt.Errorf("cart update missing customer or product id: %w", store.ErrValidation)
	}
	if delta == 0 {
		return fmt.Errorf("cart delta must be non-zero: %w", store.ErrValidation)
	}
	k := key(customerID)
	qty, err := c.Redis.HIncrBy(ctx, k, productID, int64(delta)).Result()
	if err != nil {
		return err
	}
	if qty <= 0 {
		if err := c.Redis.HDel(ctx, k, productID).Err(); err != nil {
			return err
		}
	}
	return c.Redis.Expire(ctx, k, redisx.TTLCart).Err()
}

func (c *Cart) RemoveItem(ctx context.Context, customerID, productID string) error {
	return c.Redis.HDel(ctx, key(customerID), productID).Err()
}

func (c *Cart) Items(ctx context.Context, customerID string) (map[string]int, error) {
	raw, err := c.Redis.HGetAll(ctx, key(customerID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(raw))
	for productID, q := range raw {
		qty, err := strconv.Atoi(q)
		if err != nil || qty <= 0 {
			continue
		}
		out[productID] = qty
	}
	return out, nil
}

func (c *Cart) Clear(ctx context.Context, customerID string) error {
	return c.Redis.Del(ctx, key(customerID)).Err()
}
