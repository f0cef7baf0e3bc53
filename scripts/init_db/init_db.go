package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found — using system environment variables")
	}

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		dbGetEnv("DB_USER", "track_user"),
		dbGetEnv("DB_PASSWORD", "track_password"),
		dbGetEnv("DB_HOST", "localhost"),
		dbGetEnv("DB_PORT", "5432"),
		dbGetEnv("DB_NAME", "fleettrack"),
	)

	ctx := context.Background()

	fmt.Println("Connecting to Postgres...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Postgres is running:\n  docker-compose up -d postgres", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	step1_vehicles_table(ctx, conn)
	step2_points_table(ctx, conn)
	step3_events_table(ctx, conn)
	step4_indexes(ctx, conn)
	step5_verify(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Run next: go run ./scripts/seed")
}

// ─────────────────────────────────────────────────────────────
// Step 1 — vehicles table
// ─────────────────────────────────────────────────────────────
func step1_vehicles_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: vehicles table ──────────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS vehicles (

			-- Stable internal id; every downstream storage key uses this,
			-- never the external id
			id           BIGSERIAL    PRIMARY KEY,

			-- Tenant scope
			org_id       BIGINT       NOT NULL,

			-- Externally-visible identifier; may be reassigned over time
			external_id  TEXT         NOT NULL,

			-- Inactive vehicles do not resolve for ingestion
			active       BOOLEAN      NOT NULL DEFAULT true,

			created_at   TIMESTAMPTZ  NOT NULL DEFAULT NOW(),

			CONSTRAINT uq_vehicle_org_external UNIQUE (org_id, external_id)
		);
	`, "vehicles table created")
}

// ─────────────────────────────────────────────────────────────
// Step 2 — gps_points table
// ─────────────────────────────────────────────────────────────
func step2_points_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 2: gps_points table ────────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS gps_points (

			-- Sample time as reported by the vehicle
			recorded_at  TIMESTAMPTZ      NOT NULL,

			-- Server receipt time — vehicle clocks drift
			received_at  TIMESTAMPTZ      NOT NULL DEFAULT NOW(),

			-- Identity
			vehicle_id   BIGINT           NOT NULL,
			org_id       BIGINT           NOT NULL,

			-- Position
			latitude     DOUBLE PRECISION NOT NULL,
			longitude    DOUBLE PRECISION NOT NULL,

			-- Optional sensor readings — NULL means not reported
			accuracy_m   DOUBLE PRECISION,
			speed_ms     DOUBLE PRECISION,
			heading_deg  DOUBLE PRECISION
		);
	`, "gps_points table created")

	// TimescaleDB hypertable when the extension is present; a plain table
	// otherwise. The pipeline only needs append + windowed scan.
	_, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE;")
	if err != nil {
		fmt.Println("  ○ timescaledb extension unavailable — keeping plain table")
		return
	}
	execOrFatal(ctx, conn, `
		SELECT create_hypertable(
			'gps_points',
			'recorded_at',
			if_not_exists => TRUE
		);
	`, "gps_points converted to hypertable")
}

// ─────────────────────────────────────────────────────────────
// Step 3 — compliance_events table
// ─────────────────────────────────────────────────────────────
func step3_events_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 3: compliance_events table ─────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS compliance_events (

			id             BIGSERIAL        PRIMARY KEY,

			vehicle_id     BIGINT           NOT NULL,
			org_id         BIGINT           NOT NULL,

			-- Must exactly match domain.EventType constants
			event_type     TEXT             NOT NULL,

			-- Must exactly match domain.EventSeverity constants:
			-- INFO | WARNING | CRITICAL
			severity       TEXT             NOT NULL,

			-- The computed value that triggered this event
			-- e.g. acceleration was 7.2 m/s² for harsh_acceleration
			trigger_value  DOUBLE PRECISION,

			detected_at    TIMESTAMPTZ      NOT NULL,
			created_at     TIMESTAMPTZ      NOT NULL DEFAULT NOW(),

			CONSTRAINT chk_severity CHECK (
				severity IN ('INFO', 'WARNING', 'CRITICAL')
			)
		);
	`, "compliance_events table created")
}

// ─────────────────────────────────────────────────────────────
// Step 4 — Indexes
// ─────────────────────────────────────────────────────────────
func step4_indexes(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 4: Indexes ─────────────────────────────")

	indexes := []struct {
		name string
		sql  string
		why  string
	}{
		{
			name: "idx_points_vehicle_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_points_vehicle_time
				  ON gps_points (vehicle_id, recorded_at DESC);`,
			why: "query: history window for one vehicle",
		},
		{
			name: "idx_points_org_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_points_org_time
				  ON gps_points (org_id, recorded_at DESC);`,
			why: "query: all vehicles in an org",
		},
		{
			name: "idx_vehicles_resolution",
			sql: `CREATE INDEX IF NOT EXISTS idx_vehicles_resolution
				  ON vehicles (org_id, external_id)
				  WHERE active;`,
			why: "query: identity resolution (partial index)",
		},
		{
			name: "idx_events_vehicle",
			sql: `CREATE INDEX IF NOT EXISTS idx_events_vehicle
				  ON compliance_events (vehicle_id, detected_at DESC);`,
			why: "query: events for one vehicle",
		},
	}

	for _, idx := range indexes {
		execOrFatal(ctx, conn, idx.sql,
			fmt.Sprintf("%-40s ← %s", idx.name, idx.why),
		)
	}
}

// ─────────────────────────────────────────────────────────────
// Step 5 — Verify everything was created
// ─────────────────────────────────────────────────────────────
func step5_verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 5: Verification ────────────────────────")

	tables := []string{"vehicles", "gps_points", "compliance_events"}
	for _, table := range tables {
		var exists bool
		err := conn.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil || !exists {
			log.Fatalf("Table %s was not created: %v", table, err)
		}
		fmt.Printf("  ✓ table: %s\n", table)
	}

	var indexCount int
	err := conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM pg_indexes
		WHERE tablename IN ('vehicles', 'gps_points', 'compliance_events')
		AND indexname LIKE 'idx_%'
	`).Scan(&indexCount)
	if err != nil {
		log.Fatalf("Index check failed: %v", err)
	}
	fmt.Printf("  ✓ indexes created: %d\n", indexCount)
}

// ─────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────

// execOrFatal runs a SQL statement and prints result or exits on error
func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string) {
	_, err := conn.Exec(ctx, sql)
	if err != nil {
		log.Fatalf("FAILED — %s\nError: %v\nSQL: %s", label, err, sql)
	}
	fmt.Printf("  ✓ %s\n", label)
}

func dbGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
