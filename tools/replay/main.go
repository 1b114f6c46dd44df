// Command replay re-runs the reconciliation pass for one series from a CSV of
// hourly observations. By default it prints the resulting upsert plan without
// touching the store; --apply persists it.
package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"glowsync/internal/readings/domain"
	"glowsync/internal/reconcile"
	seriesrepo "glowsync/internal/statistics/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const timeLayout = time.RFC3339

type config struct {
	dbURL    string
	series   string
	csvPath  string
	lookback int
	apply    bool
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	key := domain.SeriesKey(cfg.series)
	meta, err := domain.MetadataFor(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unknown series %q\n", cfg.series)
		os.Exit(2)
	}

	observations, err := loadObservations(cfg.csvPath, key)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load observations:", err)
		os.Exit(2)
	}
	if len(observations) == 0 {
		fmt.Fprintln(os.Stderr, "no observations in csv")
		os.Exit(2)
	}

	db, err := sql.Open("pgx", cfg.dbURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db open:", err)
		os.Exit(2)
	}
	defer db.Close()

	ctx := context.Background()
	repo := seriesrepo.NewSeriesRepository(db)

	tail, err := repo.ReadTail(ctx, key, cfg.lookback)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read tail:", err)
		os.Exit(2)
	}

	points, stats := reconcile.Reconcile(observations, tail)
	writePlan(os.Stdout, key, meta, tail, points)
	fmt.Fprintf(os.Stderr, "plan: new=%d revised=%d unchanged=%d skipped=%d\n",
		stats.New, stats.Revised, stats.Unchanged, stats.Skipped)

	if !cfg.apply {
		fmt.Fprintln(os.Stderr, "dry run; pass --apply to persist")
		return
	}
	if len(points) == 0 {
		fmt.Fprintln(os.Stderr, "nothing to apply")
		return
	}
	if err := repo.Upsert(ctx, key, points); err != nil {
		fmt.Fprintln(os.Stderr, "apply:", err)
		os.Exit(2)
	}
	fmt.Fprintf(os.Stderr, "applied %d points to %s\n", len(points), key)
}

func parseFlags() (config, error) {
	var cfg config
	flag.StringVar(&cfg.dbURL, "db", getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")), "Postgres DSN")
	flag.StringVar(&cfg.series, "series", "", "series key, e.g. electricity_consumption")
	flag.StringVar(&cfg.csvPath, "csv", "", "observation CSV path with headers: hour_start, value")
	flag.IntVar(&cfg.lookback, "lookback", 1000, "persisted tail points to load")
	flag.BoolVar(&cfg.apply, "apply", false, "persist the plan instead of dry-running")
	flag.Parse()

	if cfg.dbURL == "" {
		return cfg, errors.New("missing --db or DATABASE_URL/PG_DSN")
	}
	if cfg.series == "" {
		return cfg, errors.New("missing --series")
	}
	if cfg.csvPath == "" {
		return cfg, errors.New("missing --csv")
	}
	if cfg.lookback <= 0 {
		return cfg, errors.New("--lookback must be positive")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func loadObservations(path string, key domain.SeriesKey) ([]domain.Observation, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	parts := strings.SplitN(key.String(), "_", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed series key %q", key)
	}
	resource := domain.ResourceKind(parts[0])
	metric := domain.MetricKind(parts[1])

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 1 {
		return nil, errors.New("csv: empty")
	}
	header := make(map[string]int)
	for i, name := range records[0] {
		header[strings.ToLower(strings.TrimSpace(name))] = i
	}
	timeIdx := findHeader(header, "hour_start", "hour", "time", "ts")
	valueIdx := findHeader(header, "value", "state", "reading")
	if timeIdx < 0 || valueIdx < 0 {
		return nil, errors.New("csv requires headers: hour_start, value")
	}

	var result []domain.Observation
	for _, row := range records[1:] {
		if timeIdx >= len(row) || valueIdx >= len(row) {
			continue
		}
		hour, err := parseHour(row[timeIdx])
		if err != nil {
			return nil, err
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(row[valueIdx]), 64)
		if err != nil {
			return nil, fmt.Errorf("csv: bad value %q", row[valueIdx])
		}
		result = append(result, domain.Observation{
			Hour:     hour,
			Resource: resource,
			Metric:   metric,
			Value:    value,
		})
	}
	return result, nil
}

func parseHour(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("csv: empty time")
	}
	if epoch, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(epoch, 0).UTC().Truncate(time.Hour), nil
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC().Truncate(time.Hour), nil
		}
	}
	return time.Time{}, fmt.Errorf("csv: unsupported time format %q", value)
}

func writePlan(out *os.File, key domain.SeriesKey, meta domain.SeriesMetadata, tail, points []domain.StatPoint) {
	existing := make(map[int64]domain.StatPoint, len(tail))
	for _, point := range tail {
		existing[point.Hour.Unix()] = point
	}

	writer := csv.NewWriter(out)
	defer writer.Flush()
	_ = writer.Write([]string{"series", "unit", "hour_start", "action", "state", "cumulative_sum"})
	for _, point := range points {
		action := "new"
		if stored, ok := existing[point.Hour.Unix()]; ok {
			if math.Abs(point.State-stored.State) < 0.001 && math.Abs(point.Sum-stored.Sum) < 0.001 {
				action = "unchanged"
			} else {
				action = "revised"
			}
		}
		_ = writer.Write([]string{
			key.String(),
			meta.Unit,
			point.Hour.UTC().Format(timeLayout),
			action,
			strconv.FormatFloat(point.State, 'f', -1, 64),
			strconv.FormatFloat(point.Sum, 'f', -1, 64),
		})
	}
}

func findHeader(headers map[string]int, names ...string) int {
	for _, name := range names {
		if idx, ok := headers[strings.ToLower(name)]; ok {
			return idx
		}
	}
	return -1
}
