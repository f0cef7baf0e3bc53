// Package ingest sequences the per-point pipeline: validate, resolve
// identity, update the latest view, buffer for durable flush, detect
// events, broadcast. Only the durable-write path can fail an ingestion;
// every stage after it is best-effort.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fleettrack/internal/buffer"
	"fleettrack/internal/cache"
	"fleettrack/internal/detect"
	"fleettrack/internal/domain"
	"fleettrack/internal/geo"
	"fleettrack/internal/hub"
	"fleettrack/internal/metrics"
)

// Resolver maps a tenant-scoped external vehicle id to its stable internal
// id. A zero id with nil error means "no such active vehicle".
type Resolver interface {
	ResolveVehicle(ctx context.Context, orgID int64, externalID string) (int64, error)
}

// Publisher is the broadcast fan-out. Implementations must never block.
type Publisher interface {
	Publish(vehicleID string, p domain.GpsPoint)
}

// HistoryReader serves the bounded-window history scan from the durable
// store.
type HistoryReader interface {
	RecentPoints(ctx context.Context, vehicleID, orgID, sinceMS int64) ([]domain.GpsPoint, error)
}

// Report is one already-authenticated, already-parsed telemetry sample as
// the transport layer hands it over.
type Report struct {
	VehicleExternalID string   `json:"vehicle_external_id"`
	Latitude          *float64 `json:"latitude"`
	Longitude         *float64 `json:"longitude"`
	AccuracyM         *float64 `json:"accuracy,omitempty"`
	SpeedMS           *float64 `json:"speed,omitempty"`
	HeadingD          *float64 `json:"heading,omitempty"`
	RecordedAt        *int64   `json:"recorded_at,omitempty"`
}

// Result is surfaced to the transport layer, which owns the response
// envelope.
type Result struct {
	Buffered      int
	RecordedAt    int64
	CorrelationID string
}

type Service struct {
	resolver Resolver
	cache    *cache.Latest
	buffer   *buffer.Buffer
	detector *detect.Detector
	hub      Publisher
	history  HistoryReader
	log      *logrus.Logger

	now func() time.Time
}

func NewService(
	resolver Resolver,
	latest *cache.Latest,
	buf *buffer.Buffer,
	detector *detect.Detector,
	publisher Publisher,
	history HistoryReader,
	log *logrus.Logger,
) *Service {
	return &Service{
		resolver: resolver,
		cache:    latest,
		buffer:   buf,
		detector: detector,
		hub:      publisher,
		history:  history,
		log:      log,
		now:      time.Now,
	}
}

// Ingest runs one point through the pipeline. Validation and identity
// failures reject with zero side effects; cache, detection, and broadcast
// failures are logged only. A returned error from the buffer path means
// the point is not durably safe and the caller should treat the ingestion
// as failed.
func (s *Service) Ingest(ctx context.Context, orgID int64, r Report) (Result, error) {
	metrics.PointsReceived.Add(1)

	if r.Latitude == nil || r.Longitude == nil || !geo.ValidCoordinates(*r.Latitude, *r.Longitude) {
		metrics.RejectedPoints.Add(1)
		return Result{}, domain.ErrInvalidCoordinates
	}

	vehicleID, err := s.resolver.ResolveVehicle(ctx, orgID, r.VehicleExternalID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve vehicle %q: %w", r.VehicleExternalID, err)
	}
	if vehicleID == 0 {
		metrics.RejectedPoints.Add(1)
		return Result{}, fmt.Errorf("%w: %q in org %d", domain.ErrVehicleNotFound, r.VehicleExternalID, orgID)
	}

	now := s.now()
	recordedAt := now.UnixMilli()
	if r.RecordedAt != nil {
		recordedAt = *r.RecordedAt
	}
	point := domain.GpsPoint{
		ReceivedAt: now,
		VehicleID:  vehicleID,
		ExternalID: r.VehicleExternalID,
		OrgID:      orgID,
		Latitude:   *r.Latitude,
		Longitude:  *r.Longitude,
		AccuracyM:  r.AccuracyM,
		SpeedMS:    r.SpeedMS,
		HeadingD:   r.HeadingD,
		RecordedAt: recordedAt,
	}

	if err := s.cache.Put(ctx, point); err != nil {
		s.log.WithError(err).WithField("vehicle_id", vehicleID).
			Warn("latest-position update failed")
	}

	buffered, err := s.buffer.Append(ctx, point)
	if err != nil {
		return Result{}, err
	}
	if err := s.buffer.MaybeFlush(ctx, vehicleID); err != nil {
		return Result{}, err
	}

	s.detector.Observe(ctx, point)
	s.hub.Publish(point.ExternalID, point)

	return Result{
		Buffered:      buffered,
		RecordedAt:    recordedAt,
		CorrelationID: uuid.NewString(),
	}, nil
}

// Latest returns the vehicle's cached newest position, resolving identity
// first so one org can never read another's view.
func (s *Service) Latest(ctx context.Context, orgID int64, externalID string) (domain.GpsPoint, bool, error) {
	vehicleID, err := s.resolver.ResolveVehicle(ctx, orgID, externalID)
	if err != nil {
		return domain.GpsPoint{}, false, fmt.Errorf("resolve vehicle %q: %w", externalID, err)
	}
	if vehicleID == 0 {
		return domain.GpsPoint{}, false, fmt.Errorf("%w: %q in org %d", domain.ErrVehicleNotFound, externalID, orgID)
	}
	return s.cache.Get(ctx, vehicleID)
}

// History returns samples since the given epoch-ms timestamp, newest
// first, capped by the store's window limit.
func (s *Service) History(ctx context.Context, orgID int64, externalID string, sinceMS int64) ([]domain.GpsPoint, error) {
	vehicleID, err := s.resolver.ResolveVehicle(ctx, orgID, externalID)
	if err != nil {
		return nil, fmt.Errorf("resolve vehicle %q: %w", externalID, err)
	}
	if vehicleID == 0 {
		return nil, fmt.Errorf("%w: %q in org %d", domain.ErrVehicleNotFound, externalID, orgID)
	}
	return s.history.RecentPoints(ctx, vehicleID, orgID, sinceMS)
}

var _ Publisher = (*hub.Registry)(nil)

