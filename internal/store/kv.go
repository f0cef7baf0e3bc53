package store

import (
	"context"
	"fmt"
	"time"
)

// KV is the volatile cache/buffer store. Implementations provide
// last-writer-wins semantics only; no atomic increment or CAS is assumed.
type KV interface {
	// Get returns the value and true, or (nil, false) when the key is
	// absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put stores the value. A zero ttl means no expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Key namespaces, scoped per vehicle and purpose.
func LatestKey(vehicleID int64) string {
	return fmt.Sprintf("track:latest:%d", vehicleID)
}

func BufferKey(vehicleID int64) string {
	return fmt.Sprintf("track:buffer:%d", vehicleID)
}

func FlushMarkerKey(vehicleID int64) string {
	return fmt.Sprintf("track:flushed:%d", vehicleID)
}

func MotionKey(vehicleID int64) string {
	return fmt.Sprintf("track:motion:%d", vehicleID)
}

func AuthKey(apiKey string) string {
	return fmt.Sprintf("track:auth:%s", apiKey)
}
