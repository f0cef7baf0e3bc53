// Package buffer implements the per-vehicle write buffer: an append-only
// sequence of pending points kept in the volatile store and drained to the
// durable store when it reaches the flush cap or the flush interval
// elapses. The buffer is never cleared before a durable write confirms, so
// a failed flush costs a retry, never data.
package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"fleettrack/internal/domain"
	"fleettrack/internal/metrics"
	"fleettrack/internal/store"
)

// PointWriter is the durable sink a flush drains into.
type PointWriter interface {
	InsertPoints(ctx context.Context, points []domain.GpsPoint) error
	InsertPoint(ctx context.Context, p domain.GpsPoint) error
}

type Buffer struct {
	kv            store.KV
	durable       PointWriter
	flushCap      int
	flushInterval time.Duration
	retention     time.Duration
	log           *logrus.Logger

	now func() time.Time
}

func New(kv store.KV, durable PointWriter, flushCap int, flushInterval, retention time.Duration, log *logrus.Logger) *Buffer {
	return &Buffer{
		kv:            kv,
		durable:       durable,
		flushCap:      flushCap,
		flushInterval: flushInterval,
		retention:     retention,
		log:           log,
		now:           time.Now,
	}
}

// Append adds the point to the tail of its vehicle's buffer and returns
// the resulting length, or 0 if the append triggered an immediate flush.
// If the volatile store is unreachable the point is written straight to
// the durable store instead, so no sample is silently dropped.
func (b *Buffer) Append(ctx context.Context, p domain.GpsPoint) (int, error) {
	key := store.BufferKey(p.VehicleID)

	data, ok, err := b.kv.Get(ctx, key)
	if err != nil {
		return 0, b.directWrite(ctx, p, err)
	}

	var points []domain.GpsPoint
	if ok {
		if err := json.Unmarshal(data, &points); err != nil {
			// Unreadable buffer contents: start over rather than block
			// ingestion forever on a poisoned key.
			b.log.WithError(err).WithField("vehicle_id", p.VehicleID).
				Error("discarding undecodable write buffer")
			points = nil
		}
	}
	points = append(points, p)

	// Persist before any flush attempt so a failed flush (or a crash
	// mid-flush) retains every point for retry.
	updated, err := json.Marshal(points)
	if err != nil {
		return 0, fmt.Errorf("marshal write buffer: %w", err)
	}
	if err := b.kv.Put(ctx, key, updated, b.retention); err != nil {
		return 0, b.directWrite(ctx, p, err)
	}

	if len(points) >= b.flushCap {
		if err := b.flush(ctx, p.VehicleID, points); err != nil {
			return 0, err
		}
		return 0, nil
	}

	return len(points), nil
}

// MaybeFlush drains the vehicle's buffer if the last-flush marker is older
// than the flush interval. An empty buffer still refreshes the marker so
// subsequent points within the window skip the check cheaply.
func (b *Buffer) MaybeFlush(ctx context.Context, vehicleID int64) error {
	data, ok, err := b.kv.Get(ctx, store.FlushMarkerKey(vehicleID))
	if err != nil {
		b.log.WithError(err).WithField("vehicle_id", vehicleID).
			Warn("flush marker unavailable, skipping time-based flush")
		return nil
	}
	if !ok {
		// First sighting of this vehicle: start the window, don't force a
		// durable write for a single point.
		return b.stampMarker(ctx, vehicleID)
	}

	lastMS, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return b.stampMarker(ctx, vehicleID)
	}
	if b.now().Sub(time.UnixMilli(lastMS)) < b.flushInterval {
		return nil
	}

	pointsData, ok, err := b.kv.Get(ctx, store.BufferKey(vehicleID))
	if err != nil {
		b.log.WithError(err).WithField("vehicle_id", vehicleID).
			Warn("write buffer unavailable, skipping time-based flush")
		return nil
	}
	var points []domain.GpsPoint
	if ok {
		if err := json.Unmarshal(pointsData, &points); err != nil {
			b.log.WithError(err).WithField("vehicle_id", vehicleID).
				Error("discarding undecodable write buffer")
			b.kv.Delete(ctx, store.BufferKey(vehicleID))
			points = nil
		}
	}
	if len(points) == 0 {
		return b.stampMarker(ctx, vehicleID)
	}

	return b.flush(ctx, vehicleID, points)
}

// flush writes the batch durably, then clears the buffer and stamps the
// marker. Ordering matters: the buffer is only cleared after the durable
// write succeeds.
func (b *Buffer) flush(ctx context.Context, vehicleID int64, points []domain.GpsPoint) error {
	if err := b.durable.InsertPoints(ctx, points); err != nil {
		metrics.FlushFailures.Add(1)
		return fmt.Errorf("%w: flush of %d points for vehicle %d: %v",
			domain.ErrDurableWrite, len(points), vehicleID, err)
	}
	metrics.FlushSuccess.Add(1)
	metrics.PointsFlushed.Add(int64(len(points)))

	if err := b.kv.Delete(ctx, store.BufferKey(vehicleID)); err != nil {
		// Points are durable; a stale buffer means duplicates on the next
		// flush, which the pipeline tolerates over losing data.
		b.log.WithError(err).WithField("vehicle_id", vehicleID).
			Warn("failed to clear flushed buffer")
	}
	return b.stampMarker(ctx, vehicleID)
}

func (b *Buffer) stampMarker(ctx context.Context, vehicleID int64) error {
	ms := strconv.FormatInt(b.now().UnixMilli(), 10)
	if err := b.kv.Put(ctx, store.FlushMarkerKey(vehicleID), []byte(ms), b.retention); err != nil {
		b.log.WithError(err).WithField("vehicle_id", vehicleID).
			Warn("failed to stamp flush marker")
	}
	return nil
}

// directWrite is the fallback for a dead volatile store: one synchronous
// durable insert for the single point.
func (b *Buffer) directWrite(ctx context.Context, p domain.GpsPoint, cause error) error {
	cause = fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, cause)
	b.log.WithError(cause).WithField("vehicle_id", p.VehicleID).
		Warn("volatile store unavailable, writing point directly")
	metrics.FallbackWrites.Add(1)

	if err := b.durable.InsertPoint(ctx, p); err != nil {
		return fmt.Errorf("%w: %w: direct write for vehicle %d: %v",
			cause, domain.ErrDurableWrite, p.VehicleID, err)
	}
	return nil
}
