package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/jo-hoe/gopix/internal/backend/database"
)

func newTestCache(t *testing.T) (*RecordCache, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)

	recordCache, err := NewRecordCache(server.Addr(), 0, time.Minute)
	if err != nil {
		t.Fatalf("failed to create record cache: %v", err)
	}
	t.Cleanup(func() {
		if err := recordCache.Close(); err != nil {
			t.Errorf("failed to close record cache: %v", err)
		}
	})
	return recordCache, server
}

func TestRecordCacheRoundTrip(t *testing.T) {
	recordCache, _ := newTestCache(t)
	ctx := context.Background()

	avifPath := "2026/08/photo.avif"
	avifSize := int64(40000)
	record := &database.ConversionRecord{
		AssetID:        7,
		OriginalFormat: "image/jpeg",
		AvifPath:       &avifPath,
		AvifSize:       &avifSize,
		OriginalSize:   100000,
		Status:         database.StatusCompleted,
	}

	recordCache.Set(ctx, record)

	loaded := recordCache.Get(ctx, 7)
	if loaded == nil {
		t.Fatal("expected cached record, got nil")
	}
	if loaded.AssetID != 7 {
		t.Errorf("expected asset id 7, got %d", loaded.AssetID)
	}
	if loaded.AvifPath == nil || *loaded.AvifPath != avifPath {
		t.Errorf("avif path did not survive the round trip: %+v", loaded.AvifPath)
	}
	if loaded.Status != database.StatusCompleted {
		t.Errorf("expected status %q, got %q", database.StatusCompleted, loaded.Status)
	}
}

func TestRecordCacheMiss(t *testing.T) {
	recordCache, _ := newTestCache(t)

	if record := recordCache.Get(context.Background(), 999); record != nil {
		t.Errorf("expected miss, got %+v", record)
	}
}

func TestRecordCacheInvalidate(t *testing.T) {
	recordCache, _ := newTestCache(t)
	ctx := context.Background()

	record := &database.ConversionRecord{
		AssetID:      11,
		OriginalSize: 50000,
		Status:       database.StatusSkipped,
	}
	recordCache.Set(ctx, record)
	recordCache.Invalidate(ctx, 11)

	if loaded := recordCache.Get(ctx, 11); loaded != nil {
		t.Errorf("expected record gone after invalidation, got %+v", loaded)
	}
}

func TestRecordCacheDropsCorruptEntries(t *testing.T) {
	recordCache, server := newTestCache(t)
	ctx := context.Background()

	if err := server.Set("gopix:conversion:3", "not json"); err != nil {
		t.Fatalf("failed to seed corrupt entry: %v", err)
	}

	if loaded := recordCache.Get(ctx, 3); loaded != nil {
		t.Errorf("expected corrupt entry treated as miss, got %+v", loaded)
	}
	if server.Exists("gopix:conversion:3") {
		t.Error("expected corrupt entry to be deleted")
	}
}

func TestNilRecordCacheIsNoOp(t *testing.T) {
	var recordCache *RecordCache
	ctx := context.Background()

	// Every method must be safe on the nil cache returned when no
	// address is configured.
	recordCache.Set(ctx, &database.ConversionRecord{AssetID: 1})
	recordCache.Invalidate(ctx, 1)
	if record := recordCache.Get(ctx, 1); record != nil {
		t.Errorf("expected nil from nil cache, got %+v", record)
	}
	if err := recordCache.Close(); err != nil {
		t.Errorf("expected nil error from nil cache close, got %v", err)
	}
}

func TestNewRecordCacheWithoutAddress(t *testing.T) {
	recordCache, err := NewRecordCache("", 0, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if recordCache != nil {
		t.Errorf("expected nil cache for empty address, got %+v", recordCache)
	}
}
