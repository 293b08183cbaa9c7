// Package cache stores derived views behind a version counter. Writers bump
// the counter; readers build keys from the current version, so a bump makes
// every older entry unreachable.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Store is the backend contract: plain byte values with TTL and an atomic
// counter.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Counter(ctx context.Context, key string) (int64, error)
}

// Versioned scopes a group of cached views under one counter.
type Versioned struct {
	store   Store
	prefix  string
	ttl     time.Duration
	version string
}

func NewVersioned(store Store, prefix string, ttl time.Duration) *Versioned {
	return &Versioned{store: store, prefix: prefix, ttl: ttl, version: prefix + ":version"}
}

func (v *Versioned) key(ctx context.Context, name string) (string, error) {
	n, err := v.store.Counter(ctx, v.version)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s:v%d", v.prefix, name, n), nil
}

// Invalidate drops every view in the group.
func (v *Versioned) Invalidate(ctx context.Context) error {
	_, err := v.store.Incr(ctx, v.version)
	return err
}

// Remember returns the cached view or builds, stores and returns it.
func Remember[T any](ctx context.Context, v *Versioned, name string, build func(context.Context) (T, error)) (T, error) {
	var zero T
	key, err := v.key(ctx, name)
	if err != nil {
		return build(ctx)
	}
	if raw, ok, err := v.store.Get(ctx, key); err == nil && ok {
		var out T
		if err := json.Unmarshal(raw, &out); err == nil {
			return out, nil
		}
	}
	out, err := build(ctx)
	if err != nil {
		return zero, err
	}
	if raw, err := json.Marshal(out); err == nil {
		_ = v.store.Set(ctx, key, raw, v.ttl)
	}
	return out, nil
}
