// Package cache keeps recently written conversion records in redis so
// render-time lookups do not have to hit the relational store on every
// image reference. Entries are written by the optimization pipeline
// right after each upsert and carry a TTL; a miss simply falls through
// to the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jo-hoe/gopix/internal/backend/database"
)

type RecordCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRecordCache connects to redis at the given address. An empty
// address returns a nil cache; all methods are nil-safe so callers do
// not need to branch on whether caching is configured.
func NewRecordCache(address string, db int, ttl time.Duration) (*RecordCache, error) {
	if address == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr: address,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", address, err)
	}

	return &RecordCache{
		client: client,
		ttl:    ttl,
	}, nil
}

func (c *RecordCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

// Get returns the cached conversion record for the asset, or nil on a
// miss. Broken payloads are treated as misses and dropped.
func (c *RecordCache) Get(ctx context.Context, assetID int64) *database.ConversionRecord {
	if c == nil {
		return nil
	}

	data, err := c.client.Get(ctx, recordKey(assetID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("record cache read failed", "asset_id", assetID, "error", err)
		}
		return nil
	}

	var record database.ConversionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		slog.Warn("record cache entry is corrupt; dropping it", "asset_id", assetID, "error", err)
		_ = c.client.Del(ctx, recordKey(assetID)).Err()
		return nil
	}
	return &record
}

// Set stores the conversion record under the asset's key.
func (c *RecordCache) Set(ctx context.Context, record *database.ConversionRecord) {
	if c == nil || record == nil {
		return
	}

	data, err := json.Marshal(record)
	if err != nil {
		slog.Warn("failed to marshal conversion record for cache", "asset_id", record.AssetID, "error", err)
		return
	}
	if err := c.client.Set(ctx, recordKey(record.AssetID), data, c.ttl).Err(); err != nil {
		slog.Warn("record cache write failed", "asset_id", record.AssetID, "error", err)
	}
}

// Invalidate removes the cached record, e.g. when an asset is deleted.
func (c *RecordCache) Invalidate(ctx context.Context, assetID int64) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, recordKey(assetID)).Err(); err != nil {
		slog.Warn("record cache invalidation failed", "asset_id", assetID, "error", err)
	}
}

func recordKey(assetID int64) string {
	return fmt.Sprintf("gopix:conversion:%d", assetID)
}
