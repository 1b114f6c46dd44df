package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	"glowsync/internal/alerts"
	apihttp "glowsync/internal/api/http"
	"glowsync/internal/auth"
	"glowsync/internal/glowmarkt"
	"glowsync/internal/observability/metrics"
	"glowsync/internal/poller"
	"glowsync/internal/readings"
	"glowsync/internal/readings/domain"
	seriesrepo "glowsync/internal/statistics/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init()

	store := seriesrepo.NewSeriesRepository(db)
	if err := store.EnsureSchema(context.Background()); err != nil {
		logger.Fatalf("schema error: %v", err)
	}

	client, err := glowmarkt.NewClient(
		cfg.GlowmarktBaseURL,
		cfg.GlowmarktAppID,
		cfg.GlowmarktUsername,
		cfg.GlowmarktPassword,
		glowmarkt.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("glowmarkt client error: %v", err)
	}

	collector, err := readings.NewCollector(client, logger)
	if err != nil {
		logger.Fatalf("collector error: %v", err)
	}

	pollCfg, err := poller.LoadConfig()
	if err != nil {
		logger.Fatalf("poller config error: %v", err)
	}

	pollerOpts := []poller.Option{}
	if pollCfg.Alerts.WebhookURL != "" {
		channel, err := alerts.NewWebhookChannel(pollCfg.Alerts.WebhookURL)
		if err != nil {
			logger.Fatalf("alert webhook error: %v", err)
		}
		rules := make([]alerts.Rule, 0, len(pollCfg.Alerts.Rules))
		for _, rule := range pollCfg.Alerts.Rules {
			rules = append(rules, alerts.Rule{
				Series:    domain.SeriesKey(rule.Series),
				Threshold: rule.Threshold,
			})
		}
		notifier, err := alerts.NewNotifier(rules, channel,
			alerts.WithCooldown(pollCfg.Alerts.Cooldown.Std()),
			alerts.WithLogger(logger),
		)
		if err != nil {
			logger.Fatalf("alert notifier error: %v", err)
		}
		pollerOpts = append(pollerOpts, poller.WithAlerts(notifier))
	}

	meterPoller, err := poller.New(collector, store, pollCfg, logger, pollerOpts...)
	if err != nil {
		logger.Fatalf("poller error: %v", err)
	}
	go func() {
		if err := meterPoller.Run(context.Background()); err != nil {
			logger.Printf("event=poller_stopped error=%v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/api/v1/values", apihttp.NewValuesHandler(meterPoller.Snapshot()))
	mux.Handle("/api/v1/series", apihttp.NewSeriesHandler(store))
	mux.Handle("/api/v1/poll", apihttp.NewPollHandler(meterPoller))
	mux.Handle("/api/v1/exports/series.csv", apihttp.NewExportSeriesCSVHandler(store))
	mux.Handle("/api/v1/exports/series.xlsx", apihttp.NewExportSeriesXLSXHandler(store))
	mux.Handle("/api/v1/exports/series.pdf", apihttp.NewExportSeriesPDFHandler(store))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var handler http.Handler = mux
	if cfg.JWTSecret != "" {
		policy := auth.NewDefaultPolicy([]string{"/healthz"}, []string{"/metrics"})
		handler = auth.NewMiddleware([]byte(cfg.JWTSecret), policy).Wrap(mux)
	} else {
		logger.Printf("event=auth_disabled msg=\"AUTH_JWT_SECRET not set, API is unauthenticated\"")
	}

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(handler, logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL       string
	HTTPAddr          string
	GlowmarktBaseURL  string
	GlowmarktAppID    string
	GlowmarktUsername string
	GlowmarktPassword string
	JWTSecret         string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		GlowmarktBaseURL:  getenvDefault("GLOWMARKT_BASE_URL", glowmarkt.DefaultBaseURL),
		GlowmarktAppID:    getenvDefault("GLOWMARKT_APP_ID", glowmarkt.DefaultApplicationID),
		GlowmarktUsername: getenvDefault("GLOWMARKT_USERNAME", ""),
		GlowmarktPassword: getenvDefault("GLOWMARKT_PASSWORD", ""),
		JWTSecret:         getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.GlowmarktUsername == "" || cfg.GlowmarktPassword == "" {
		log.Fatal("GLOWMARKT_USERNAME and GLOWMARKT_PASSWORD are required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
