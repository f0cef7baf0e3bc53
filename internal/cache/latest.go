// Package cache maintains the per-vehicle latest-position view: a
// short-TTL overwrite-on-ingest entry in the volatile store. Entries that
// expire mean "unknown/stale", not an error; the durable store remains the
// source of truth.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fleettrack/internal/domain"
	"fleettrack/internal/store"
)

type Latest struct {
	kv  store.KV
	ttl time.Duration
}

func NewLatest(kv store.KV, ttl time.Duration) *Latest {
	return &Latest{kv: kv, ttl: ttl}
}

// Put unconditionally overwrites the vehicle's entry and resets its
// expiry. Last put wins; callers needing strict in-order latest-wins must
// serialize per vehicle themselves.
func (l *Latest) Put(ctx context.Context, p domain.GpsPoint) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal latest position: %w", err)
	}
	return l.kv.Put(ctx, store.LatestKey(p.VehicleID), data, l.ttl)
}

// Get returns the most recent point, or false when the entry has expired
// or was never set.
func (l *Latest) Get(ctx context.Context, vehicleID int64) (domain.GpsPoint, bool, error) {
	data, ok, err := l.kv.Get(ctx, store.LatestKey(vehicleID))
	if err != nil || !ok {
		return domain.GpsPoint{}, false, err
	}
	var p domain.GpsPoint
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.GpsPoint{}, false, fmt.Errorf("unmarshal latest position: %w", err)
	}
	return p, true, nil
}
