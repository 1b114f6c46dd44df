package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"glowsync/internal/poller"
	"glowsync/internal/readings/domain"
	"glowsync/internal/statistics/memory"
)

func seedRepo(t *testing.T, repo *memory.SeriesRepository, key domain.SeriesKey, points []domain.StatPoint) {
	t.Helper()
	if err := repo.Upsert(context.Background(), key, points); err != nil {
		t.Fatalf("seed repo: %v", err)
	}
}

func TestValuesHandler(t *testing.T) {
	snapshot := poller.NewSnapshot()
	hour := time.Date(2026, time.August, 20, 6, 0, 0, 0, time.UTC)
	snapshot.Update(poller.SeriesSnapshot{
		Key:         "electricity_consumption",
		LatestHour:  hour,
		LatestState: 1.5,
		WindowTotal: 10.0,
		UpdatedAt:   hour.Add(time.Hour),
	})
	snapshot.Update(poller.SeriesSnapshot{
		Key:         "electricity_cost",
		LatestHour:  hour,
		LatestState: 0.4,
		WindowTotal: 2.5,
		UpdatedAt:   hour.Add(time.Hour),
	})

	handler := NewValuesHandler(snapshot)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/values", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body valuesResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Series) != 2 {
		t.Fatalf("expected 2 series entries, got %d", len(body.Series))
	}
	if body.Series[0].Series != "electricity_consumption" || body.Series[0].Unit != "kWh" {
		t.Fatalf("unexpected first entry: %+v", body.Series[0])
	}
	if body.ElectricityCostPerKWh == nil || *body.ElectricityCostPerKWh != 0.25 {
		t.Fatalf("expected cost per kwh 0.25, got %v", body.ElectricityCostPerKWh)
	}
	if body.GasCostPerUnit != nil {
		t.Fatalf("expected no gas rate without gas data, got %v", *body.GasCostPerUnit)
	}
}

func TestSeriesHandlerQueriesRange(t *testing.T) {
	repo := memory.NewSeriesRepository()
	hour := time.Date(2026, time.August, 20, 6, 0, 0, 0, time.UTC)
	seedRepo(t, repo, "gas_consumption", []domain.StatPoint{
		{Hour: hour, State: 0.5, Sum: 0.5},
		{Hour: hour.Add(time.Hour), State: 0.7, Sum: 1.2},
		{Hour: hour.Add(2 * time.Hour), State: 0.3, Sum: 1.5},
	})

	handler := NewSeriesHandler(repo)
	target := "/api/v1/series?series=gas_consumption&from=" + hour.Format(time.RFC3339) +
		"&to=" + hour.Add(2*time.Hour).Format(time.RFC3339)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var body seriesResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Unit != "m³" {
		t.Fatalf("expected gas unit, got %s", body.Unit)
	}
	if len(body.Points) != 2 {
		t.Fatalf("expected half-open range with 2 points, got %d", len(body.Points))
	}
	if body.Points[1].Sum != 1.2 {
		t.Fatalf("expected cumulative 1.2, got %v", body.Points[1].Sum)
	}
}

func TestSeriesHandlerValidation(t *testing.T) {
	repo := memory.NewSeriesRepository()
	handler := NewSeriesHandler(repo)

	cases := []struct {
		name   string
		target string
	}{
		{"missing series", "/api/v1/series?from=2026-08-20T00:00:00Z&to=2026-08-21T00:00:00Z"},
		{"unknown series", "/api/v1/series?series=water_pressure&from=2026-08-20T00:00:00Z&to=2026-08-21T00:00:00Z"},
		{"missing from", "/api/v1/series?series=gas_cost&to=2026-08-21T00:00:00Z"},
		{"inverted range", "/api/v1/series?series=gas_cost&from=2026-08-21T00:00:00Z&to=2026-08-20T00:00:00Z"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.target, nil)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, resp.Code)
		}
	}
}

func TestExportSeriesCSV(t *testing.T) {
	repo := memory.NewSeriesRepository()
	hour := time.Date(2026, time.August, 20, 6, 0, 0, 0, time.UTC)
	seedRepo(t, repo, "electricity_consumption", []domain.StatPoint{
		{Hour: hour, State: 1.5, Sum: 1.5},
		{Hour: hour.Add(time.Hour), State: 2.0, Sum: 3.5},
	})

	handler := NewExportSeriesCSVHandler(repo)
	target := "/api/v1/exports/series.csv?series=electricity_consumption&from=" +
		hour.Format(time.RFC3339) + "&to=" + hour.Add(3*time.Hour).Format(time.RFC3339)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if got := resp.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/csv") {
		t.Fatalf("expected csv content type, got %s", got)
	}
	lines := strings.Split(strings.TrimSpace(resp.Body.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d lines", len(lines))
	}
	if lines[0] != "series,unit,hour_start,state,cumulative_sum" {
		t.Fatalf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[2], "3.5") {
		t.Fatalf("expected cumulative sum in last row, got %s", lines[2])
	}
}

func TestBuildSeriesXLSXAndPDF(t *testing.T) {
	hour := time.Date(2026, time.August, 20, 6, 0, 0, 0, time.UTC)
	meta, err := domain.MetadataFor("electricity_consumption")
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	points := []domain.StatPoint{
		{Hour: hour, State: 1.5, Sum: 1.5},
		{Hour: hour.Add(time.Hour), State: 2.0, Sum: 3.5},
	}

	xlsx, err := BuildSeriesXLSX(meta, hour, hour.Add(2*time.Hour), points)
	if err != nil {
		t.Fatalf("build xlsx: %v", err)
	}
	if len(xlsx) == 0 {
		t.Fatal("expected non-empty xlsx payload")
	}

	pdf, err := BuildSeriesPDF(meta, hour, hour.Add(2*time.Hour), points)
	if err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	if len(pdf) == 0 {
		t.Fatal("expected non-empty pdf payload")
	}
	if !strings.HasPrefix(string(pdf), "%PDF") {
		t.Fatal("expected pdf magic header")
	}
}

type stubRunner struct {
	err   error
	calls int
}

func (s *stubRunner) TriggerNow(context.Context) error {
	s.calls++
	return s.err
}

func TestPollHandler(t *testing.T) {
	runner := &stubRunner{}
	handler := NewPollHandler(runner)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/poll", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if runner.calls != 1 {
		t.Fatalf("expected one cycle, got %d", runner.calls)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/poll", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", resp.Code)
	}

	runner.err = errors.New("upstream down")
	req = httptest.NewRequest(http.MethodPost, "/api/v1/poll", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on cycle failure, got %d", resp.Code)
	}
}
