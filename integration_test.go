package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"leaderboard-server/anomaly"
	"leaderboard-server/api"
	"leaderboard-server/auth"
	"leaderboard-server/config"
	"leaderboard-server/core"
	"leaderboard-server/gatekeeper"
	"leaderboard-server/leaderboard"
	"leaderboard-server/ledger"
	"leaderboard-server/notify"
	"leaderboard-server/verifier"
	"leaderboard-server/ws"
)

// setupTestServer creates a test HTTP server with the full service stack on
// the in-memory ledger.
func setupTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, func()) {
	t.Helper()

	registry := verifier.NewRegistry()
	verifier.RegisterAll(registry, &cfg.Verifiers)

	led := ledger.NewMemory()
	cache := leaderboard.New(led, cfg.LeaderboardSize, time.Duration(cfg.SnapshotTTLMS)*time.Millisecond)
	broadcaster := notify.NewBroadcaster(cfg.SubscriberBuffer)
	cache.SetPublish(broadcaster.Publish)
	monitor := anomaly.NewMonitor(cfg.Anomaly, anomaly.LogAuditor{})

	ctx, cancel := context.WithCancel(context.Background())
	go monitor.Run(ctx)

	svc := core.NewService(gatekeeper.New(cfg, registry), led, cache, monitor)
	hub := ws.NewHub(broadcaster, cache)
	go hub.Run(ctx)

	handler := api.NewHandler(svc, auth.HeaderResolver{})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/api/actions", handler.SubmitAction)
	mux.HandleFunc("/api/leaderboard", handler.Leaderboard)
	mux.HandleFunc("/api/history", handler.History)

	server := httptest.NewServer(mux)
	cleanup := func() {
		server.Close()
		cancel()
	}
	return server, cleanup
}

// submitAction posts one action for the principal and returns the decoded
// response body.
func submitAction(t *testing.T, server *httptest.Server, principalID, actionType string, value int64) map[string]any {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"action_id":       uuid.NewString(),
		"action_type":     actionType,
		"score_increment": value,
		"occurred_at":     time.Now().UTC().Format(time.RFC3339),
	})
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/actions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Principal-ID", principalID)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	return out
}

// connectWS creates a WebSocket connection to the test server.
func connectWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return conn
}

// readMsg reads a JSON message from the WebSocket and returns it as a map.
func readMsg(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to unmarshal message: %v", err)
	}
	return msg
}

func TestSubmitThenLeaderboardQuery(t *testing.T) {
	server, cleanup := setupTestServer(t, config.Defaults())
	defer cleanup()

	out := submitAction(t, server, "alice", "task_completion", 50)
	if out["success"] != true {
		t.Fatalf("expected success, got %v", out)
	}

	resp, err := http.Get(server.URL + "/api/leaderboard")
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	defer resp.Body.Close()
	var board api.LeaderboardResponse
	if err := json.NewDecoder(resp.Body).Decode(&board); err != nil {
		t.Fatalf("decode leaderboard: %v", err)
	}
	if len(board.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(board.Entries))
	}
	if board.Entries[0].PrincipalID != "alice" || board.Entries[0].Score != 50 {
		t.Errorf("unexpected entry: %+v", board.Entries[0])
	}
}

func TestSubscriberReceivesSnapshotThenUpdates(t *testing.T) {
	server, cleanup := setupTestServer(t, config.Defaults())
	defer cleanup()

	submitAction(t, server, "alice", "task_completion", 50)

	conn := connectWS(t, server)
	defer conn.Close()

	// First message is the baseline snapshot.
	msg := readMsg(t, conn)
	if msg["type"] != "leaderboard_snapshot" {
		t.Fatalf("expected leaderboard_snapshot, got %v", msg["type"])
	}
	entries, _ := msg["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("expected 1 snapshot entry, got %d", len(entries))
	}

	// A commit that changes the ranking produces an update.
	submitAction(t, server, "bob", "task_completion", 80)

	msg = readMsg(t, conn)
	if msg["type"] != "leaderboard_update" {
		t.Fatalf("expected leaderboard_update, got %v", msg["type"])
	}
	if msg["sequence"].(float64) != 1 {
		t.Errorf("expected sequence 1, got %v", msg["sequence"])
	}
	changed, _ := msg["changed_principals"].([]any)
	found := false
	for _, c := range changed {
		if c == "bob" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected bob among changed principals, got %v", changed)
	}
}

func TestDuplicateSubmissionOverHTTP(t *testing.T) {
	server, cleanup := setupTestServer(t, config.Defaults())
	defer cleanup()

	actionID := uuid.NewString()
	post := func() (int, map[string]any) {
		body, _ := json.Marshal(map[string]any{
			"action_id":       actionID,
			"action_type":     "task_completion",
			"score_increment": 50,
		})
		req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/actions", bytes.NewReader(body))
		req.Header.Set("X-Principal-ID", "alice")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		defer resp.Body.Close()
		var out map[string]any
		json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	status, out := post()
	if status != http.StatusOK || out["success"] != true {
		t.Fatalf("first submit: status=%d body=%v", status, out)
	}
	status, out = post()
	if status != http.StatusConflict {
		t.Fatalf("second submit: expected 409, got %d", status)
	}
	errBody, _ := out["error"].(map[string]any)
	if errBody["code"] != "duplicate_action" {
		t.Errorf("expected duplicate_action, got %v", errBody)
	}

	// Score increased exactly once.
	resp, err := http.Get(server.URL + "/api/leaderboard")
	if err != nil {
		t.Fatalf("get leaderboard: %v", err)
	}
	defer resp.Body.Close()
	var board api.LeaderboardResponse
	json.NewDecoder(resp.Body).Decode(&board)
	if board.Entries[0].Score != 50 {
		t.Errorf("expected score 50 after duplicate, got %d", board.Entries[0].Score)
	}
}

func TestRateLimitOverHTTP(t *testing.T) {
	cfg := config.Defaults()
	cfg.RateLimitMax = 10
	cfg.RateWindowSec = 3600
	server, cleanup := setupTestServer(t, cfg)
	defer cleanup()

	for i := 0; i < 10; i++ {
		out := submitAction(t, server, "bob", "task_completion", 10)
		if out["success"] != true {
			t.Fatalf("submission %d rejected: %v", i, out)
		}
	}
	out := submitAction(t, server, "bob", "task_completion", 10)
	if out["success"] == true {
		t.Fatal("11th submission should be rate limited")
	}
	errBody, _ := out["error"].(map[string]any)
	if errBody["code"] != "rate_limited" {
		t.Errorf("expected rate_limited, got %v", errBody)
	}
}

func TestTieBreakIsDeterministicOverHTTP(t *testing.T) {
	server, cleanup := setupTestServer(t, config.Defaults())
	defer cleanup()

	submitAction(t, server, "zoe", "task_completion", 50)
	submitAction(t, server, "adam", "task_completion", 50)

	for i := 0; i < 3; i++ {
		resp, err := http.Get(server.URL + "/api/leaderboard")
		if err != nil {
			t.Fatalf("leaderboard: %v", err)
		}
		var board api.LeaderboardResponse
		json.NewDecoder(resp.Body).Decode(&board)
		resp.Body.Close()
		if len(board.Entries) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(board.Entries))
		}
		if board.Entries[0].PrincipalID != "adam" || board.Entries[1].PrincipalID != "zoe" {
			t.Fatalf("query %d: equal scores must order by principal id: %+v", i, board.Entries)
		}
	}
}

func TestHistoryOverHTTP(t *testing.T) {
	server, cleanup := setupTestServer(t, config.Defaults())
	defer cleanup()

	submitAction(t, server, "alice", "task_completion", 50)
	submitAction(t, server, "alice", "referral_bonus", 100)

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/history", nil)
	req.Header.Set("X-Principal-ID", "alice")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	defer resp.Body.Close()
	var recs []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0]["action_type"] != "referral_bonus" {
		t.Errorf("expected newest first, got %v", recs[0]["action_type"])
	}
}

func TestConcurrentSubmissionsAcrossPrincipals(t *testing.T) {
	cfg := config.Defaults()
	cfg.RateLimitMax = 100
	server, cleanup := setupTestServer(t, cfg)
	defer cleanup()

	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			principal := fmt.Sprintf("p%d", n)
			for j := 0; j < 5; j++ {
				submitAction(t, server, principal, "task_completion", 10)
			}
		}(i)
	}
	for i := 0; i < 5; i++ {
		<-done
	}

	resp, err := http.Get(server.URL + "/api/leaderboard")
	if err != nil {
		t.Fatalf("get leaderboard: %v", err)
	}
	defer resp.Body.Close()
	var board api.LeaderboardResponse
	json.NewDecoder(resp.Body).Decode(&board)
	if len(board.Entries) != 5 {
		t.Fatalf("expected 5 principals, got %d", len(board.Entries))
	}
	for _, e := range board.Entries {
		if e.Score != 50 {
			t.Errorf("principal %s: expected 50, got %d", e.PrincipalID, e.Score)
		}
	}
}
