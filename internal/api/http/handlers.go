// Package apihttp exposes the read API over the reconciled series.
package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"glowsync/internal/poller"
	"glowsync/internal/readings/domain"
)

const timeLayout = time.RFC3339

// SeriesReader is the slice of the series store the API reads from.
type SeriesReader interface {
	Query(ctx context.Context, key domain.SeriesKey, from, to time.Time) ([]domain.StatPoint, error)
}

// CycleRunner triggers one poll cycle on demand, without the catch-up grace
// wait a scheduled cycle performs.
type CycleRunner interface {
	TriggerNow(ctx context.Context) error
}

// ValuesHandler serves the latest per-series values.
type ValuesHandler struct {
	snapshot *poller.Snapshot
}

// NewValuesHandler constructs a ValuesHandler.
func NewValuesHandler(snapshot *poller.Snapshot) *ValuesHandler {
	return &ValuesHandler{snapshot: snapshot}
}

type seriesValue struct {
	Series      string    `json:"series"`
	Name        string    `json:"name"`
	Unit        string    `json:"unit"`
	LatestHour  time.Time `json:"latest_hour"`
	LatestState float64   `json:"latest_state"`
	WindowTotal float64   `json:"window_total"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type valuesResponse struct {
	Series                []seriesValue `json:"series"`
	ElectricityCostPerKWh *float64      `json:"electricity_cost_per_kwh,omitempty"`
	GasCostPerUnit        *float64      `json:"gas_cost_per_unit,omitempty"`
}

// ServeHTTP handles GET /api/v1/values.
func (h *ValuesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.snapshot == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	response := valuesResponse{Series: []seriesValue{}}
	views := h.snapshot.All()
	for _, key := range domain.AllSeriesKeys() {
		view, ok := views[key]
		if !ok {
			continue
		}
		meta, err := domain.MetadataFor(key)
		if err != nil {
			continue
		}
		response.Series = append(response.Series, seriesValue{
			Series:      key.String(),
			Name:        meta.Name,
			Unit:        meta.Unit,
			LatestHour:  view.LatestHour,
			LatestState: view.LatestState,
			WindowTotal: view.WindowTotal,
			UpdatedAt:   view.UpdatedAt,
		})
	}
	if rate, ok := h.snapshot.CostPerUnit(domain.ResourceElectricity); ok {
		response.ElectricityCostPerKWh = &rate
	}
	if rate, ok := h.snapshot.CostPerUnit(domain.ResourceGas); ok {
		response.GasCostPerUnit = &rate
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// SeriesHandler serves range queries over one persisted series.
type SeriesHandler struct {
	store SeriesReader
}

// NewSeriesHandler constructs a SeriesHandler.
func NewSeriesHandler(store SeriesReader) *SeriesHandler {
	return &SeriesHandler{store: store}
}

type seriesPoint struct {
	Hour  time.Time `json:"hour"`
	State float64   `json:"state"`
	Sum   float64   `json:"sum"`
}

type seriesResponse struct {
	Series string        `json:"series"`
	Unit   string        `json:"unit"`
	Points []seriesPoint `json:"points"`
}

// ServeHTTP handles GET /api/v1/series.
func (h *SeriesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.store == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	key, meta, from, to, err := parseSeriesQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	points, err := h.store.Query(r.Context(), key, from, to)
	if err != nil {
		http.Error(w, "query series error", http.StatusInternalServerError)
		return
	}

	response := seriesResponse{Series: key.String(), Unit: meta.Unit, Points: []seriesPoint{}}
	for _, point := range points {
		response.Points = append(response.Points, seriesPoint{
			Hour:  point.Hour.UTC(),
			State: point.State,
			Sum:   point.Sum,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// PollHandler triggers one poll cycle on demand.
type PollHandler struct {
	runner CycleRunner
}

// NewPollHandler constructs a PollHandler.
func NewPollHandler(runner CycleRunner) *PollHandler {
	return &PollHandler{runner: runner}
}

// ServeHTTP handles POST /api/v1/poll.
func (h *PollHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.runner == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	if err := h.runner.TriggerNow(r.Context()); err != nil {
		http.Error(w, "poll cycle failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "completed"})
}

func parseSeriesQuery(r *http.Request) (domain.SeriesKey, domain.SeriesMetadata, time.Time, time.Time, error) {
	raw := r.URL.Query().Get("series")
	if raw == "" {
		return "", domain.SeriesMetadata{}, time.Time{}, time.Time{}, errors.New("series is required")
	}
	key := domain.SeriesKey(raw)
	meta, err := domain.MetadataFor(key)
	if err != nil {
		return "", domain.SeriesMetadata{}, time.Time{}, time.Time{}, errors.New("unknown series")
	}

	from, err := parseTimeQuery(r, "from")
	if err != nil {
		return "", domain.SeriesMetadata{}, time.Time{}, time.Time{}, err
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		return "", domain.SeriesMetadata{}, time.Time{}, time.Time{}, err
	}
	if !to.After(from) {
		return "", domain.SeriesMetadata{}, time.Time{}, time.Time{}, errors.New("to must be after from")
	}
	return key, meta, from, to, nil
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
