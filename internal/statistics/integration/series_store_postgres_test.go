package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"glowsync/internal/readings/domain"
	seriesrepo "glowsync/internal/statistics/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestSeriesStoreRoundTrip_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	repo := seriesrepo.NewSeriesRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	key := domain.SeriesKey("electricity_consumption")
	_, _ = db.ExecContext(ctx, "DELETE FROM meter_statistics WHERE series_key = $1", key.String())
	_, _ = db.ExecContext(ctx, "DELETE FROM meter_series WHERE series_key = $1", key.String())

	meta, err := domain.MetadataFor(key)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if err := repo.EnsureMetadata(ctx, meta); err != nil {
		t.Fatalf("ensure metadata: %v", err)
	}
	// Re-registering the same series must be a no-op.
	if err := repo.EnsureMetadata(ctx, meta); err != nil {
		t.Fatalf("ensure metadata twice: %v", err)
	}

	hour := time.Date(2026, time.August, 20, 6, 0, 0, 0, time.UTC)
	initial := []domain.StatPoint{
		{Hour: hour, State: 1.5, Sum: 1.5},
		{Hour: hour.Add(time.Hour), State: 2.0, Sum: 3.5},
	}
	if err := repo.Upsert(ctx, key, initial); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	tail, err := repo.ReadTail(ctx, key, 10)
	if err != nil {
		t.Fatalf("read tail: %v", err)
	}
	if len(tail) != 2 {
		t.Fatalf("expected 2 points, got %d", len(tail))
	}
	if !tail[0].Hour.Before(tail[1].Hour) {
		t.Fatal("expected tail ascending by hour")
	}

	// Revise the first hour in place.
	revised := []domain.StatPoint{
		{Hour: hour, State: 2.5, Sum: 2.5},
		{Hour: hour.Add(time.Hour), State: 2.0, Sum: 4.5},
	}
	if err := repo.Upsert(ctx, key, revised); err != nil {
		t.Fatalf("upsert revision: %v", err)
	}

	points, err := repo.Query(ctx, key, hour, hour.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points after revision, got %d", len(points))
	}
	if points[0].State != 2.5 || points[1].Sum != 4.5 {
		t.Fatalf("expected revised values, got %+v", points)
	}

	latest, ok, err := repo.Latest(ctx, key)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !ok {
		t.Fatal("expected latest point")
	}
	if !latest.Hour.Equal(hour.Add(time.Hour)) {
		t.Fatalf("expected latest hour %s, got %s", hour.Add(time.Hour), latest.Hour)
	}
}
