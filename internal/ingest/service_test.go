package ingest

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleettrack/internal/buffer"
	"fleettrack/internal/cache"
	"fleettrack/internal/detect"
	"fleettrack/internal/domain"
	"fleettrack/internal/store"
)

type resolverStub struct {
	vehicles map[string]int64 // external id → internal id
	err      error
}

func (r *resolverStub) ResolveVehicle(ctx context.Context, orgID int64, externalID string) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	return r.vehicles[externalID], nil
}

type durableStub struct {
	mu      sync.Mutex
	batches [][]domain.GpsPoint
	singles []domain.GpsPoint
	events  []domain.ComplianceEvent
}

func (d *durableStub) InsertPoints(ctx context.Context, points []domain.GpsPoint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, points)
	return nil
}

func (d *durableStub) InsertPoint(ctx context.Context, p domain.GpsPoint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.singles = append(d.singles, p)
	return nil
}

func (d *durableStub) InsertComplianceEvent(ctx context.Context, ev domain.ComplianceEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return nil
}

func (d *durableStub) RecentPoints(ctx context.Context, vehicleID, orgID, sinceMS int64) ([]domain.GpsPoint, error) {
	return nil, nil
}

type publisherStub struct {
	mu     sync.Mutex
	points []domain.GpsPoint
}

func (p *publisherStub) Publish(vehicleID string, point domain.GpsPoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.points = append(p.points, point)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type fixture struct {
	svc     *Service
	kv      *store.Memory
	durable *durableStub
	pub     *publisherStub
}

func newFixture() *fixture {
	kv := store.NewMemory()
	durable := &durableStub{}
	pub := &publisherStub{}
	log := quietLogger()
	resolver := &resolverStub{vehicles: map[string]int64{"truck-alpha": 7}}

	svc := NewService(
		resolver,
		cache.NewLatest(kv, 5*time.Minute),
		buffer.New(kv, durable, 200, 5*time.Minute, 24*time.Hour, log),
		detect.New(kv, durable, 24*time.Hour, log),
		pub,
		durable,
		log,
	)
	return &fixture{svc: svc, kv: kv, durable: durable, pub: pub}
}

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func validReport() Report {
	return Report{
		VehicleExternalID: "truck-alpha",
		Latitude:          f64(51.5074),
		Longitude:         f64(-0.1278),
		SpeedMS:           f64(12.5),
		RecordedAt:        i64(1700000000000),
	}
}

func TestIngest_HappyPath(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	result, err := fx.svc.Ingest(ctx, 1, validReport())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Buffered)
	assert.Equal(t, int64(1700000000000), result.RecordedAt)
	assert.NotEmpty(t, result.CorrelationID)

	// Latest view updated.
	point, ok, err := fx.svc.Latest(ctx, 1, "truck-alpha")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), point.VehicleID)
	assert.Equal(t, 51.5074, point.Latitude)

	// Broadcast fired.
	fx.pub.mu.Lock()
	defer fx.pub.mu.Unlock()
	require.Len(t, fx.pub.points, 1)
	assert.Equal(t, "truck-alpha", fx.pub.points[0].ExternalID)
}

func TestIngest_InvalidCoordinatesRejected(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*Report)
	}{
		{"missing latitude", func(r *Report) { r.Latitude = nil }},
		{"missing longitude", func(r *Report) { r.Longitude = nil }},
		{"latitude too high", func(r *Report) { r.Latitude = f64(90.5) }},
		{"latitude too low", func(r *Report) { r.Latitude = f64(-90.5) }},
		{"longitude too high", func(r *Report) { r.Longitude = f64(180.5) }},
		{"longitude too low", func(r *Report) { r.Longitude = f64(-180.5) }},
		{"NaN latitude", func(r *Report) { r.Latitude = f64(math.NaN()) }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			report := validReport()
			test.mutate(&report)
			_, err := fx.svc.Ingest(ctx, 1, report)
			assert.ErrorIs(t, err, domain.ErrInvalidCoordinates)
		})
	}

	// No side effects anywhere.
	_, ok, err := fx.kv.Get(ctx, store.BufferKey(7))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, fx.pub.points)
}

func TestIngest_UnknownVehicleRejectedWithoutSideEffects(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	report := validReport()
	report.VehicleExternalID = "truck-ghost"

	_, err := fx.svc.Ingest(ctx, 1, report)
	require.ErrorIs(t, err, domain.ErrVehicleNotFound)

	// Zero cache/buffer/broadcast side effects.
	_, ok, kvErr := fx.kv.Get(ctx, store.BufferKey(7))
	require.NoError(t, kvErr)
	assert.False(t, ok)
	assert.Empty(t, fx.durable.batches)
	assert.Empty(t, fx.durable.singles)
	assert.Empty(t, fx.pub.points)
}

func TestIngest_RecordedAtDefaultsToNow(t *testing.T) {
	fx := newFixture()
	now := time.UnixMilli(1700000123456)
	fx.svc.now = func() time.Time { return now }

	report := validReport()
	report.RecordedAt = nil

	result, err := fx.svc.Ingest(context.Background(), 1, report)
	require.NoError(t, err)
	assert.Equal(t, now.UnixMilli(), result.RecordedAt)
}

func TestIngest_HarshAccelerationProducesEvent(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	first := validReport()
	first.SpeedMS = f64(10)
	first.RecordedAt = i64(0)
	_, err := fx.svc.Ingest(ctx, 1, first)
	require.NoError(t, err)

	second := validReport()
	second.SpeedMS = f64(20)
	second.RecordedAt = i64(1000)
	_, err = fx.svc.Ingest(ctx, 1, second)
	require.NoError(t, err)

	fx.durable.mu.Lock()
	defer fx.durable.mu.Unlock()
	require.Len(t, fx.durable.events, 1)
	assert.Equal(t, domain.EventHarshAcceleration, fx.durable.events[0].Type)
}

func TestIngest_ResolverErrorSurfaces(t *testing.T) {
	kv := store.NewMemory()
	durable := &durableStub{}
	log := quietLogger()
	resolver := &resolverStub{err: errors.New("db timeout")}

	svc := NewService(
		resolver,
		cache.NewLatest(kv, 5*time.Minute),
		buffer.New(kv, durable, 200, 5*time.Minute, 24*time.Hour, log),
		detect.New(kv, durable, 24*time.Hour, log),
		&publisherStub{},
		durable,
		log,
	)

	_, err := svc.Ingest(context.Background(), 1, validReport())
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrVehicleNotFound)
}

func TestIngest_BufferCountAccumulates(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		report := validReport()
		report.RecordedAt = i64(int64(i) * 1000)
		report.SpeedMS = nil

		result, err := fx.svc.Ingest(ctx, 1, report)
		require.NoError(t, err)
		assert.Equal(t, i, result.Buffered)
	}
	assert.Empty(t, fx.durable.batches, "below the cap nothing reaches the durable store")
}
