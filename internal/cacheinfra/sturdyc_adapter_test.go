package cacheinfra

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func newTestService(t *testing.T) *sturdycService {
	t.Helper()
	svc, err := NewSturdycService(DefaultConfig())
	if err != nil {
		t.Fatalf("NewSturdycService() error = %v", err)
	}
	return svc
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Capacity != 10000 {
		t.Errorf("expected Capacity to be 10000, got %d", cfg.Capacity)
	}
	if cfg.NumShards != 256 {
		t.Errorf("expected NumShards to be 256, got %d", cfg.NumShards)
	}
	if cfg.TTL != 30*time.Minute {
		t.Errorf("expected TTL to be 30 minutes, got %v", cfg.TTL)
	}
	if cfg.EvictionPercentage != 10 {
		t.Errorf("expected EvictionPercentage to be 10, got %d", cfg.EvictionPercentage)
	}
	if cfg.MissingRecordStorage {
		t.Error("expected MissingRecordStorage to be disabled")
	}
	if len(cfg.ToSturdycOptions()) != 0 {
		t.Errorf("expected no sturdyc options by default, got %d", len(cfg.ToSturdycOptions()))
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{name: "valid default config"},
		{name: "zero capacity", mutate: func(c *Config) { c.Capacity = 0 }, wantField: "Capacity"},
		{name: "zero shards", mutate: func(c *Config) { c.NumShards = 0 }, wantField: "NumShards"},
		{name: "zero ttl", mutate: func(c *Config) { c.TTL = 0 }, wantField: "TTL"},
		{name: "eviction too low", mutate: func(c *Config) { c.EvictionPercentage = 0 }, wantField: "EvictionPercentage"},
		{name: "eviction too high", mutate: func(c *Config) { c.EvictionPercentage = 101 }, wantField: "EvictionPercentage"},
		{name: "negative eviction interval", mutate: func(c *Config) { c.EvictionInterval = -time.Second }, wantField: "EvictionInterval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			err := cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error for %s", tt.wantField)
			}
			if !goerrors.IsValidation(err) {
				t.Errorf("Validate() error category = %v, want validation", err)
			}
			fields, ok := goerrors.GetValidationErrors(err)
			if !ok {
				t.Fatalf("Validate() error carries no field errors: %v", err)
			}
			found := false
			for _, f := range fields {
				if f.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() fields = %v, want %s", fields, tt.wantField)
			}
		})
	}
}

func TestConfig_ToSturdycOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MissingRecordStorage = true
	cfg.EvictionInterval = time.Minute

	if got := len(cfg.ToSturdycOptions()); got != 2 {
		t.Errorf("ToSturdycOptions() returned %d options, want 2", got)
	}
}

func TestNewSturdycService_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = -1
	svc, err := NewSturdycService(cfg)
	if err == nil || svc != nil {
		t.Fatalf("NewSturdycService() = %v, %v; want nil service and error", svc, err)
	}
}

func TestSturdycService_GetSet(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	if _, ok := svc.Get(ctx, "Item::1"); ok {
		t.Fatal("Get() on empty cache reported a hit")
	}
	if err := svc.Set(ctx, "Item::1", []byte{1, 2, 3}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	v, ok := svc.Get(ctx, "Item::1")
	if !ok {
		t.Fatal("Get() after Set() reported a miss")
	}
	if b, _ := v.([]byte); len(b) != 3 {
		t.Errorf("Get() = %v, want the stored bytes", v)
	}
}

func TestSturdycService_GetOrFetch(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	var calls atomic.Int32
	fetch := func(ctx context.Context) (int64, error) {
		calls.Add(1)
		return 42, nil
	}

	for i := 0; i < 3; i++ {
		v, err := svc.GetOrFetch(ctx, "User##NaturalId::johndoe", fetch)
		if err != nil {
			t.Fatalf("GetOrFetch() error = %v", err)
		}
		if v.(int64) != 42 {
			t.Errorf("GetOrFetch() = %v, want 42", v)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("fetch called %d times, want 1", calls.Load())
	}

	anyFetch := func(ctx context.Context) (any, error) { return "direct", nil }
	if v, err := svc.GetOrFetch(ctx, "direct", anyFetch); err != nil || v != "direct" {
		t.Errorf("GetOrFetch() = %v, %v; want direct", v, err)
	}
}

func TestSturdycService_GetOrFetchErrors(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	sentinel := errors.New("store unavailable")
	_, err := svc.GetOrFetch(ctx, "failing", func(ctx context.Context) (string, error) {
		return "", sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("GetOrFetch() error = %v, want %v", err, sentinel)
	}
	if _, ok := svc.Get(ctx, "failing"); ok {
		t.Error("failed fetch must not populate the cache")
	}

	invalid := []struct {
		name string
		fn   any
	}{
		{"nil", nil},
		{"not a function", 12},
		{"wrong arity", func() (int, error) { return 0, nil }},
		{"no context", func(s string) (int, error) { return 0, nil }},
		{"no error", func(ctx context.Context) (int, int) { return 0, 0 }},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.GetOrFetch(ctx, "k", tt.fn); err == nil {
				t.Error("GetOrFetch() expected validation error")
			}
		})
	}
}

func TestSturdycService_ConcurrentFetchDeduplication(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "value", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.GetOrFetch(ctx, "shared", fetch)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("fetch called %d times, want 1", calls.Load())
	}
}

func TestSturdycService_Deletes(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	for _, k := range []string{"Item::1", "Item::2", "Item.bids::1", "Bid::1"} {
		_ = svc.Set(ctx, k, k)
	}

	if err := svc.Delete(ctx, "Bid::1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := svc.DeleteByPrefix(ctx, "Item::"); err != nil {
		t.Fatalf("DeleteByPrefix() error = %v", err)
	}

	keys := svc.Keys(ctx)
	sort.Strings(keys)
	if len(keys) != 1 || keys[0] != "Item.bids::1" {
		t.Errorf("Keys() = %v, want [Item.bids::1]", keys)
	}

	if err := svc.InvalidateKeys(ctx, []string{"Item.bids::1", "missing"}); err != nil {
		t.Fatalf("InvalidateKeys() error = %v", err)
	}
	if len(svc.Keys(ctx)) != 0 {
		t.Errorf("Keys() = %v, want empty", svc.Keys(ctx))
	}
}
