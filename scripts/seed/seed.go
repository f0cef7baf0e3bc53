package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file — using system environment variables")
	}

	ctx := context.Background()

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		seedGetEnv("DB_USER", "track_user"),
		seedGetEnv("DB_PASSWORD", "track_password"),
		seedGetEnv("DB_HOST", "localhost"),
		seedGetEnv("DB_PORT", "5432"),
		seedGetEnv("DB_NAME", "fleettrack"),
	)

	fmt.Println("Connecting to Postgres...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nRun scripts/init_db first", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	client := redis.NewClient(&redis.Options{
		Addr:     seedGetEnv("REDIS_ADDR", "localhost:6379"),
		Password: seedGetEnv("REDIS_PASSWORD", ""),
		DB:       0,
	})
	defer client.Close()

	fmt.Println("Connecting to Redis...")
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	fmt.Println("✓ Connected")

	step1_vehicles(ctx, conn)
	step2_api_keys(ctx, client)
	step3_verify(ctx, conn, client)

	fmt.Println("\n✅ Demo data seeded successfully")
	fmt.Println("   Run next: go run ./cmd/trackerd")
}

func step1_vehicles(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: Seeding vehicles ────────────────────")

	// (org_id, external_id) pairs; internal ids are assigned by the table
	vehicles := []struct {
		orgID      int64
		externalID string
	}{
		{1, "truck-alpha"},
		{1, "truck-bravo"},
		{1, "van-charlie"},
		{2, "truck-delta"},
	}

	for _, v := range vehicles {
		_, err := conn.Exec(ctx, `
			INSERT INTO vehicles (org_id, external_id, active)
			VALUES ($1, $2, true)
			ON CONFLICT (org_id, external_id) DO NOTHING
		`, v.orgID, v.externalID)
		if err != nil {
			log.Fatalf("Failed to insert vehicle %s: %v", v.externalID, err)
		}
		fmt.Printf("  ✓ org %d → %s\n", v.orgID, v.externalID)
	}
}

func step2_api_keys(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Step 2: Seeding API keys ────────────────────")

	// Key pattern: track:auth:{api_key} → org_id
	// This is what the authenticator looks up at Level 2
	// TTL = 0 means permanent — these never expire
	apiKeys := map[string]string{
		"track:auth:org_one_ingest_key": "1",
		"track:auth:org_two_ingest_key": "2",
		"track:auth:test_key":           "1",
	}

	for key, orgID := range apiKeys {
		err := client.Set(ctx, key, orgID, 0).Err()
		if err != nil {
			log.Fatalf("Failed to set key %s: %v", key, err)
		}
		fmt.Printf("  ✓ %-35s → org %s\n", key, orgID)
	}
}

func step3_verify(ctx context.Context, conn *pgx.Conn, client *redis.Client) {
	fmt.Println("\n── Step 3: Verification ────────────────────────")

	var vehicleCount int
	if err := conn.QueryRow(ctx, "SELECT COUNT(*) FROM vehicles WHERE active").Scan(&vehicleCount); err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
	fmt.Printf("  ✓ %d active vehicles in Postgres\n", vehicleCount)

	keys, err := client.Keys(ctx, "track:auth:*").Result()
	if err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
	fmt.Printf("  ✓ %d API keys found in Redis\n", len(keys))

	val, err := client.Get(ctx, "track:auth:test_key").Result()
	if err != nil {
		log.Fatalf("Spot check failed: %v", err)
	}
	fmt.Printf("  ✓ spot check: track:auth:test_key → org %s\n", val)
}

func seedGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
