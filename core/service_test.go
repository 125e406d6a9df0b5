package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"leaderboard-server/anomaly"
	"leaderboard-server/config"
	"leaderboard-server/gatekeeper"
	"leaderboard-server/leaderboard"
	"leaderboard-server/ledger"
	"leaderboard-server/notify"
	"leaderboard-server/scoreerrors"
	"leaderboard-server/verifier"
)

func newTestService(t *testing.T, cfg *config.Config) (*Service, *ledger.Memory, *notify.Broadcaster) {
	t.Helper()

	reg := verifier.NewRegistry()
	verifier.RegisterAll(reg, &cfg.Verifiers)
	mem := ledger.NewMemory()
	cache := leaderboard.New(mem, cfg.LeaderboardSize, time.Duration(cfg.SnapshotTTLMS)*time.Millisecond)
	b := notify.NewBroadcaster(cfg.SubscriberBuffer)
	cache.SetPublish(b.Publish)
	monitor := anomaly.NewMonitor(cfg.Anomaly, anomaly.LogAuditor{})

	svc := NewService(gatekeeper.New(cfg, reg), mem, cache, monitor)
	return svc, mem, b
}

func submitReq(value int64) SubmitRequest {
	return SubmitRequest{
		ActionID:   uuid.NewString(),
		ActionType: "task_completion",
		Value:      value,
		OccurredAt: time.Now(),
	}
}

func TestSubmitCommitsAndRanks(t *testing.T) {
	svc, _, _ := newTestService(t, config.Defaults())
	ctx := context.Background()

	res, err := svc.Submit(ctx, "alice", submitReq(50))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.NewScore != 50 {
		t.Errorf("expected score 50, got %d", res.NewScore)
	}
	if res.NewRank == nil || *res.NewRank != 1 {
		t.Errorf("expected new rank 1, got %v", res.NewRank)
	}
	if res.PreviousRank != nil {
		t.Errorf("first submission should have no previous rank, got %d", *res.PreviousRank)
	}
}

func TestSubmitDuplicateActionID(t *testing.T) {
	svc, mem, _ := newTestService(t, config.Defaults())
	ctx := context.Background()

	req := submitReq(50)
	if _, err := svc.Submit(ctx, "alice", req); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := svc.Submit(ctx, "alice", req)
	if !errors.Is(err, scoreerrors.ErrDuplicateAction) {
		t.Fatalf("expected ErrDuplicateAction, got %v", err)
	}

	agg, _ := mem.GetAggregate(ctx, "alice")
	if agg.CurrentScore != 50 || agg.TotalActions != 1 {
		t.Errorf("duplicate mutated the ledger: %+v", agg)
	}
}

func TestConcurrentDuplicateSubmissions(t *testing.T) {
	cfg := config.Defaults()
	cfg.RateLimitMax = 100
	svc, mem, _ := newTestService(t, cfg)
	ctx := context.Background()

	// Principal starts at 100; two concurrent requests carry the same
	// action id and a 50-point increment. Final score must be 150.
	if _, err := svc.Submit(ctx, "alice", submitReq(100)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := SubmitRequest{ActionID: uuid.NewString(), ActionType: "task_completion", Value: 50, OccurredAt: time.Now()}
	const n = 4
	var wg sync.WaitGroup
	var successes int
	var mu sync.Mutex
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Submit(ctx, "alice", req)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, scoreerrors.ErrDuplicateAction):
			case errors.Is(err, scoreerrors.ErrLockContended):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("expected exactly 1 success, got %d", successes)
	}
	agg, _ := mem.GetAggregate(ctx, "alice")
	if agg.CurrentScore != 150 {
		t.Errorf("expected final score 150, got %d", agg.CurrentScore)
	}
}

func TestSubmitRateLimited(t *testing.T) {
	cfg := config.Defaults()
	cfg.RateLimitMax = 10
	cfg.RateWindowSec = 3600 // avoid crossing a window boundary mid-test
	svc, _, _ := newTestService(t, cfg)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := svc.Submit(ctx, "bob", submitReq(10)); err != nil {
			t.Fatalf("submission %d: %v", i, err)
		}
	}
	_, err := svc.Submit(ctx, "bob", submitReq(10))
	if !errors.Is(err, scoreerrors.ErrRateLimited) {
		t.Errorf("11th submission: expected ErrRateLimited, got %v", err)
	}
}

func TestSubmitValidationFailed(t *testing.T) {
	svc, mem, _ := newTestService(t, config.Defaults())
	ctx := context.Background()

	_, err := svc.Submit(ctx, "alice", submitReq(99999))
	if !errors.Is(err, scoreerrors.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
	agg, _ := mem.GetAggregate(ctx, "alice")
	if agg != nil {
		t.Errorf("rejected submission reached the ledger: %+v", agg)
	}
}

func TestLeaderboardFreshAfterMembershipChange(t *testing.T) {
	cfg := config.Defaults()
	cfg.LeaderboardSize = 2
	cfg.SnapshotTTLMS = 60_000 // TTL must not be what refreshes it
	svc, _, _ := newTestService(t, cfg)
	ctx := context.Background()

	for _, p := range []struct {
		id    string
		score int64
	}{{"alice", 100}, {"bob", 90}, {"carol", 95}} {
		if _, err := svc.Submit(ctx, p.id, submitReq(p.score)); err != nil {
			t.Fatalf("submit %s: %v", p.id, err)
		}
	}

	snap, err := svc.Leaderboard(ctx)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(snap.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap.Entries))
	}
	if snap.Entries[0].PrincipalID != "alice" || snap.Entries[1].PrincipalID != "carol" {
		t.Errorf("expected [alice carol], got %+v", snap.Entries)
	}
}

func TestRankMovementReported(t *testing.T) {
	cfg := config.Defaults()
	cfg.RateLimitMax = 100
	svc, _, _ := newTestService(t, cfg)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, "alice", submitReq(100)); err != nil {
		t.Fatalf("seed alice: %v", err)
	}
	if _, err := svc.Submit(ctx, "bob", submitReq(50)); err != nil {
		t.Fatalf("seed bob: %v", err)
	}

	// bob overtakes alice.
	res, err := svc.Submit(ctx, "bob", submitReq(100))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.PreviousRank == nil || *res.PreviousRank != 2 {
		t.Errorf("expected previous rank 2, got %v", res.PreviousRank)
	}
	if res.NewRank == nil || *res.NewRank != 1 {
		t.Errorf("expected new rank 1, got %v", res.NewRank)
	}
}

func TestSubmitPublishesUpdates(t *testing.T) {
	cfg := config.Defaults()
	svc, _, b := newTestService(t, cfg)
	ctx := context.Background()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	if _, err := svc.Submit(ctx, "alice", submitReq(50)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case u := <-sub.C:
		if u.Sequence != 1 {
			t.Errorf("expected sequence 1, got %d", u.Sequence)
		}
		if len(u.ChangedPrincipals) != 1 || u.ChangedPrincipals[0] != "alice" {
			t.Errorf("expected changed [alice], got %v", u.ChangedPrincipals)
		}
	case <-time.After(time.Second):
		t.Fatal("no leaderboard update published")
	}
}

func TestScoreLookup(t *testing.T) {
	svc, _, _ := newTestService(t, config.Defaults())
	ctx := context.Background()

	agg, err := svc.Score(ctx, "alice")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if agg != nil {
		t.Fatalf("expected nil aggregate for unknown principal, got %+v", agg)
	}

	if _, err := svc.Submit(ctx, "alice", submitReq(50)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	agg, err = svc.Score(ctx, "alice")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if agg == nil || agg.CurrentScore != 50 || agg.TotalActions != 1 {
		t.Errorf("unexpected aggregate: %+v", agg)
	}
}

func TestHistoryReturnsCommittedActions(t *testing.T) {
	cfg := config.Defaults()
	cfg.RateLimitMax = 100
	svc, _, _ := newTestService(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Submit(ctx, "alice", submitReq(int64(10*(i+1)))); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	recs, err := svc.History(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(recs) != 3 {
		t.Errorf("expected 3 records, got %d", len(recs))
	}
}
