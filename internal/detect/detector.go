// Package detect classifies harsh-acceleration events from consecutive
// speed samples. Detection is strictly pairwise: only the immediately
// previous sample is kept, and it is overwritten on every sample that
// carries a speed.
package detect

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"fleettrack/internal/domain"
	"fleettrack/internal/geo"
	"fleettrack/internal/metrics"
	"fleettrack/internal/store"
)

// EventWriter is the durable sink for compliance-log entries.
type EventWriter interface {
	InsertComplianceEvent(ctx context.Context, ev domain.ComplianceEvent) error
}

type Detector struct {
	kv       store.KV
	events   EventWriter
	stateTTL time.Duration
	log      *logrus.Logger

	now func() time.Time
}

func New(kv store.KV, events EventWriter, stateTTL time.Duration, log *logrus.Logger) *Detector {
	return &Detector{
		kv:       kv,
		events:   events,
		stateTTL: stateTTL,
		log:      log,
		now:      time.Now,
	}
}

// Observe evaluates one sample. Missing speed, missing previous state, or
// any store error is "no event"; detection never blocks ingestion, so all
// failures are logged and swallowed.
func (d *Detector) Observe(ctx context.Context, p domain.GpsPoint) {
	if p.SpeedMS == nil {
		return
	}

	key := store.MotionKey(p.VehicleID)
	data, ok, err := d.kv.Get(ctx, key)
	if err != nil {
		d.log.WithError(err).WithField("vehicle_id", p.VehicleID).
			Warn("motion state read failed, skipping detection")
		return
	}

	if ok {
		var prev domain.MotionState
		if err := json.Unmarshal(data, &prev); err == nil {
			d.evaluate(ctx, p, prev)
		}
	}

	next, err := json.Marshal(domain.MotionState{
		SpeedMS:    *p.SpeedMS,
		RecordedAt: p.RecordedAt,
	})
	if err != nil {
		return
	}
	if err := d.kv.Put(ctx, key, next, d.stateTTL); err != nil {
		d.log.WithError(err).WithField("vehicle_id", p.VehicleID).
			Warn("motion state write failed")
	}
}

func (d *Detector) evaluate(ctx context.Context, p domain.GpsPoint, prev domain.MotionState) {
	// A state record without a timestamp counts the gap as one second.
	elapsedMS := int64(1000)
	if prev.RecordedAt != 0 {
		elapsedMS = p.RecordedAt - prev.RecordedAt
	}

	accel := geo.Acceleration(prev.SpeedMS, *p.SpeedMS, elapsedMS)
	if !geo.IsHarsh(accel) {
		return
	}

	ev := domain.ComplianceEvent{
		VehicleID:    p.VehicleID,
		OrgID:        p.OrgID,
		Type:         domain.EventHarshAcceleration,
		Severity:     domain.SeverityWarning,
		TriggerValue: accel,
		DetectedAt:   d.now(),
	}
	if err := d.events.InsertComplianceEvent(ctx, ev); err != nil {
		d.log.WithError(err).WithFields(logrus.Fields{
			"vehicle_id": p.VehicleID,
			"accel_ms2":  accel,
		}).Error("compliance event insert failed")
		return
	}
	metrics.EventsDetected.Add(1)
	d.log.WithFields(logrus.Fields{
		"vehicle_id": p.VehicleID,
		"accel_ms2":  accel,
	}).Warn("harsh acceleration detected")
}
