package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"leaderboard-server/anomaly"
	"leaderboard-server/api"
	"leaderboard-server/auth"
	"leaderboard-server/config"
	"leaderboard-server/core"
	"leaderboard-server/gatekeeper"
	"leaderboard-server/leaderboard"
	"leaderboard-server/ledger"
	"leaderboard-server/loghandler"
	"leaderboard-server/notify"
	"leaderboard-server/verifier"
	"leaderboard-server/ws"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Print("No .env file found; using environment variables.")
	}

	slog.SetDefault(slog.New(loghandler.NewCompactHandler(os.Stdout, slog.LevelInfo)))

	cfg := config.Load()
	ctx := context.Background()

	if cfg.AuthBaseURL == "" {
		slog.Warn("AUTH_BASE_URL is not set; trusting X-Principal-ID (dev mode only)", "tag", "auth")
	} else {
		slog.Info("identity provider configured", "tag", "auth", "base_url", cfg.AuthBaseURL)
	}

	slog.Info("configuration",
		"leaderboard_size", cfg.LeaderboardSize,
		"snapshot_ttl_ms", cfg.SnapshotTTLMS,
		"lock_ttl_ms", cfg.LockTTLMS,
		"rate_limit_max", cfg.RateLimitMax,
		"rate_window_sec", cfg.RateWindowSec,
		"ws_port", cfg.WSPort)

	// Ledger: Postgres when configured, in-memory otherwise.
	var led ledger.Ledger
	if cfg.DatabaseURL != "" {
		pg, err := ledger.NewPostgres(ctx, cfg.DatabaseURL,
			cfg.RetryMax, time.Duration(cfg.RetryBackoffMS)*time.Millisecond)
		if err != nil {
			slog.Error("failed to connect to Postgres", "tag", "ledger", "err", err)
			os.Exit(1)
		}
		led = pg
	} else {
		slog.Warn("DATABASE_URL is not set; scores are held in memory only", "tag", "ledger")
		led = ledger.NewMemory()
	}
	defer led.Close()

	// Verifier registry: adding an action type means registering it here.
	registry := verifier.NewRegistry()
	verifier.RegisterAll(registry, &cfg.Verifiers)

	cache := leaderboard.New(led, cfg.LeaderboardSize, time.Duration(cfg.SnapshotTTLMS)*time.Millisecond)
	broadcaster := notify.NewBroadcaster(cfg.SubscriberBuffer)
	cache.SetPublish(broadcaster.Publish)

	monitor := anomaly.NewMonitor(cfg.Anomaly, anomaly.LogAuditor{})
	go monitor.Run(ctx)

	svc := core.NewService(gatekeeper.New(cfg, registry), led, cache, monitor)

	hub := ws.NewHub(broadcaster, cache)
	go hub.Run(ctx)

	handler := api.NewHandler(svc, auth.NewResolver(cfg.AuthBaseURL))

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/api/actions", handler.SubmitAction)
	mux.HandleFunc("/api/leaderboard", handler.Leaderboard)
	mux.HandleFunc("/api/history", handler.History)

	addr := fmt.Sprintf(":%d", cfg.WSPort)
	slog.Info("leaderboard server listening", "addr", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}
