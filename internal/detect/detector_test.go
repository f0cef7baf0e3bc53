package detect

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleettrack/internal/domain"
	"fleettrack/internal/store"
)

type eventSink struct {
	mu     sync.Mutex
	events []domain.ComplianceEvent
	fail   bool
}

func (s *eventSink) InsertComplianceEvent(ctx context.Context, ev domain.ComplianceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("db down")
	}
	s.events = append(s.events, ev)
	return nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func speedPoint(vehicleID int64, speedMS float64, recordedAt int64) domain.GpsPoint {
	return domain.GpsPoint{
		VehicleID:  vehicleID,
		ExternalID: "truck-alpha",
		OrgID:      1,
		Latitude:   51.5,
		Longitude:  -0.12,
		SpeedMS:    &speedMS,
		RecordedAt: recordedAt,
	}
}

func TestObserve_HarshAccelerationLogged(t *testing.T) {
	kv := store.NewMemory()
	sink := &eventSink{}
	d := New(kv, sink, 24*time.Hour, quietLogger())
	ctx := context.Background()

	// 10 m/s at t=0, 20 m/s at t=1000ms: 10 m/s², harsh.
	d.Observe(ctx, speedPoint(1, 10, 0))
	d.Observe(ctx, speedPoint(1, 20, 1000))

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, domain.EventHarshAcceleration, ev.Type)
	assert.Equal(t, domain.SeverityWarning, ev.Severity)
	assert.Equal(t, int64(1), ev.VehicleID)
	assert.Equal(t, int64(1), ev.OrgID)
	assert.InDelta(t, 10.0, ev.TriggerValue, 1e-9)
}

func TestObserve_GentleAccelerationIgnored(t *testing.T) {
	kv := store.NewMemory()
	sink := &eventSink{}
	d := New(kv, sink, 24*time.Hour, quietLogger())
	ctx := context.Background()

	// 10 → 11 m/s over 1s: 1 m/s², not harsh.
	d.Observe(ctx, speedPoint(1, 10, 0))
	d.Observe(ctx, speedPoint(1, 11, 1000))

	assert.Empty(t, sink.events)
}

func TestObserve_HarshBrakingLogged(t *testing.T) {
	kv := store.NewMemory()
	sink := &eventSink{}
	d := New(kv, sink, 24*time.Hour, quietLogger())
	ctx := context.Background()

	d.Observe(ctx, speedPoint(1, 20, 0))
	d.Observe(ctx, speedPoint(1, 5, 1000))

	require.Len(t, sink.events, 1)
	assert.InDelta(t, -15.0, sink.events[0].TriggerValue, 1e-9)
}

func TestObserve_FirstSampleIsNoEvent(t *testing.T) {
	kv := store.NewMemory()
	sink := &eventSink{}
	d := New(kv, sink, 24*time.Hour, quietLogger())
	ctx := context.Background()

	d.Observe(ctx, speedPoint(1, 30, 0))
	assert.Empty(t, sink.events)

	// But the motion state was written for the next pair.
	data, ok, err := kv.Get(ctx, store.MotionKey(1))
	require.NoError(t, err)
	require.True(t, ok)
	var state domain.MotionState
	require.NoError(t, json.Unmarshal(data, &state))
	assert.Equal(t, 30.0, state.SpeedMS)
}

func TestObserve_NoSpeedIsNoEventAndNoStateChange(t *testing.T) {
	kv := store.NewMemory()
	sink := &eventSink{}
	d := New(kv, sink, 24*time.Hour, quietLogger())
	ctx := context.Background()

	d.Observe(ctx, speedPoint(1, 10, 0))

	noSpeed := speedPoint(1, 0, 1000)
	noSpeed.SpeedMS = nil
	d.Observe(ctx, noSpeed)

	assert.Empty(t, sink.events)

	var state domain.MotionState
	data, ok, err := kv.Get(ctx, store.MotionKey(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, json.Unmarshal(data, &state))
	assert.Equal(t, 10.0, state.SpeedMS, "speedless samples leave the previous state intact")
}

func TestObserve_StateOverwrittenAfterEvaluation(t *testing.T) {
	kv := store.NewMemory()
	sink := &eventSink{}
	d := New(kv, sink, 24*time.Hour, quietLogger())
	ctx := context.Background()

	// Pairwise only: 10→20 fires, then 20→21 must compare against 20.
	d.Observe(ctx, speedPoint(1, 10, 0))
	d.Observe(ctx, speedPoint(1, 20, 1000))
	d.Observe(ctx, speedPoint(1, 21, 2000))

	assert.Len(t, sink.events, 1)
}

func TestObserve_SharedTimestampDoesNotBlowUp(t *testing.T) {
	kv := store.NewMemory()
	sink := &eventSink{}
	d := New(kv, sink, 24*time.Hour, quietLogger())
	ctx := context.Background()

	d.Observe(ctx, speedPoint(1, 10, 1000))
	d.Observe(ctx, speedPoint(1, 10.001, 1000))

	// 0.001 m/s over a clamped 1ms gap is 1 m/s², not harsh.
	assert.Empty(t, sink.events)
}

func TestObserve_SinkFailureDoesNotPanicOrRetry(t *testing.T) {
	kv := store.NewMemory()
	sink := &eventSink{fail: true}
	d := New(kv, sink, 24*time.Hour, quietLogger())
	ctx := context.Background()

	d.Observe(ctx, speedPoint(1, 10, 0))
	d.Observe(ctx, speedPoint(1, 20, 1000))

	// Failure is swallowed; state still advances for the next pair.
	data, ok, err := kv.Get(ctx, store.MotionKey(1))
	require.NoError(t, err)
	require.True(t, ok)
	var state domain.MotionState
	require.NoError(t, json.Unmarshal(data, &state))
	assert.Equal(t, 20.0, state.SpeedMS)
}
