package glowmarkt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const testAppID = "app-test"

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	client, err := NewClient(url, testAppID, "user@example.com", "secret")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestAuthenticateStoresToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("applicationId") != testAppID {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["username"] == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok-1", "valid": true})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if err := client.Authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if client.currentToken() != "tok-1" {
		t.Fatalf("expected token stored, got %q", client.currentToken())
	}
}

func TestAuthenticateRejectedCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if err := client.Authenticate(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestReadingsParsesUnixPairs(t *testing.T) {
	from := time.Date(2026, time.August, 19, 7, 0, 0, 0, time.UTC)
	to := time.Date(2026, time.August, 20, 6, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth":
			_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok-1"})
		case "/resource/res-1/readings":
			if r.Header.Get("token") != "tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			query := r.URL.Query()
			if query.Get("period") != "PT1H" || query.Get("function") != "sum" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if query.Get("from") != "2026-08-19T07:00:00" || query.Get("to") != "2026-08-20T06:00:00" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []any{
					[]any{from.Unix(), 1.25},
					[]any{from.Add(time.Hour).Unix(), nil},
					[]any{from.Add(2 * time.Hour).Unix(), 0.75},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	readings, err := client.Readings(context.Background(), "res-1", from, to)
	if err != nil {
		t.Fatalf("readings: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("expected null value dropped, got %d readings", len(readings))
	}
	if !readings[0].At.Equal(from) || readings[0].Value != 1.25 {
		t.Fatalf("unexpected first reading: %+v", readings[0])
	}
	if readings[1].Value != 0.75 {
		t.Fatalf("unexpected second reading: %+v", readings[1])
	}
}

func TestReadingsNoData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth" {
			_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok-1"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Readings(context.Background(), "res-1", time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestExpiredTokenReauthenticatesOnce(t *testing.T) {
	var authCalls atomic.Int64
	var entityCalls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth":
			calls := authCalls.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok-" + string(rune('0'+calls))})
		case "/virtualentity":
			if entityCalls.Add(1) == 1 {
				// First call arrives with the stale initial token.
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"veId": "ve-1", "resources": []map[string]string{{"resourceId": "res-1", "name": "electricity.consumption"}}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	entities, err := client.VirtualEntities(context.Background())
	if err != nil {
		t.Fatalf("virtual entities: %v", err)
	}
	if len(entities) != 1 || len(entities[0].Resources) != 1 {
		t.Fatalf("unexpected entities: %+v", entities)
	}
	if got := authCalls.Load(); got != 2 {
		t.Fatalf("expected exactly one re-authentication, got %d auth calls", got)
	}
}

func TestPersistentUnauthorizedPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth" {
			_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok-1"})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.VirtualEntities(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after retry, got %v", err)
	}
}

func TestCatchupFiresRequest(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth":
			_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok-1"})
		case "/resource/res-9/catchup":
			hits.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if err := client.Catchup(context.Background(), "res-9"); err != nil {
		t.Fatalf("catchup: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected catchup request, got %d", hits.Load())
	}
}
