package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleettrack/internal/config"
	"fleettrack/internal/domain"
)

// historyRowCap bounds the windowed range read.
const historyRowCap = 1000

// Postgres is the system of record for GPS samples and compliance events.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, cfg *config.Config) (*Postgres, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBMaxConns,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var pointColumns = []string{
	"recorded_at",
	"received_at",
	"vehicle_id",
	"org_id",
	"latitude",
	"longitude",
	"accuracy_m",
	"speed_ms",
	"heading_deg",
}

// InsertPoints drains a flushed buffer in one CopyFrom. The copy fails or
// succeeds as a unit, so a failed flush leaves the whole batch retryable.
func (s *Postgres) InsertPoints(ctx context.Context, points []domain.GpsPoint) error {
	if len(points) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(points))
	for i, p := range points {
		rows[i] = []interface{}{
			time.UnixMilli(p.RecordedAt).UTC(),
			p.ReceivedAt.UTC(),
			p.VehicleID,
			p.OrgID,
			p.Latitude,
			p.Longitude,
			p.AccuracyM,
			p.SpeedMS,
			p.HeadingD,
		}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"gps_points"},
		pointColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", len(points), err)
	}

	return nil
}

// InsertPoint is the direct-write fallback used when the volatile buffer
// store is unreachable.
func (s *Postgres) InsertPoint(ctx context.Context, p domain.GpsPoint) error {
	query := `
		INSERT INTO gps_points
			(recorded_at, received_at, vehicle_id, org_id, latitude, longitude, accuracy_m, speed_ms, heading_deg)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.pool.Exec(
		ctx,
		query,
		time.UnixMilli(p.RecordedAt).UTC(),
		p.ReceivedAt.UTC(),
		p.VehicleID,
		p.OrgID,
		p.Latitude,
		p.Longitude,
		p.AccuracyM,
		p.SpeedMS,
		p.HeadingD,
	)
	if err != nil {
		return fmt.Errorf("insert point failed: %w", err)
	}
	return nil
}

// RecentPoints returns samples for one vehicle since the given epoch-ms
// timestamp, newest first, capped at 1000 rows.
func (s *Postgres) RecentPoints(ctx context.Context, vehicleID, orgID, sinceMS int64) ([]domain.GpsPoint, error) {
	query := `
		SELECT recorded_at, received_at, vehicle_id, org_id, latitude, longitude, accuracy_m, speed_ms, heading_deg
		FROM gps_points
		WHERE vehicle_id = $1 AND org_id = $2 AND recorded_at >= $3
		ORDER BY recorded_at DESC
		LIMIT $4
	`
	rows, err := s.pool.Query(ctx, query, vehicleID, orgID, time.UnixMilli(sinceMS).UTC(), historyRowCap)
	if err != nil {
		return nil, fmt.Errorf("recent points query failed: %w", err)
	}
	defer rows.Close()

	var points []domain.GpsPoint
	for rows.Next() {
		var p domain.GpsPoint
		var recordedAt time.Time
		err := rows.Scan(
			&recordedAt,
			&p.ReceivedAt,
			&p.VehicleID,
			&p.OrgID,
			&p.Latitude,
			&p.Longitude,
			&p.AccuracyM,
			&p.SpeedMS,
			&p.HeadingD,
		)
		if err != nil {
			return nil, fmt.Errorf("recent points scan failed: %w", err)
		}
		p.RecordedAt = recordedAt.UnixMilli()
		points = append(points, p)
	}
	return points, rows.Err()
}

// ResolveVehicle maps a tenant-scoped external id to the stable internal
// id used by all downstream storage keys. Returns 0 when no active vehicle
// matches; absence is not an error.
func (s *Postgres) ResolveVehicle(ctx context.Context, orgID int64, externalID string) (int64, error) {
	query := `
		SELECT id FROM vehicles
		WHERE org_id = $1 AND external_id = $2 AND active
	`
	var id int64
	err := s.pool.QueryRow(ctx, query, orgID, externalID).Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("vehicle lookup failed: %w", err)
	}
	return id, nil
}

func (s *Postgres) InsertComplianceEvent(ctx context.Context, ev domain.ComplianceEvent) error {
	query := `
		INSERT INTO compliance_events
			(vehicle_id, org_id, event_type, severity, trigger_value, detected_at)
		VALUES
			($1, $2, $3, $4, $5, $6)
	`
	_, err := s.pool.Exec(
		ctx,
		query,
		ev.VehicleID,
		ev.OrgID,
		string(ev.Type),
		string(ev.Severity),
		ev.TriggerValue,
		ev.DetectedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("compliance event insert failed: %w", err)
	}
	return nil
}
