package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
)

// VerifierConfig holds the value bounds for one action type.
type VerifierConfig struct {
	MinValue int64 `json:"min_value"`
	MaxValue int64 `json:"max_value"`
}

// VerifiersConfig holds per-action-type verifier sections.
type VerifiersConfig struct {
	TaskCompletion VerifierConfig `json:"task_completion"`
	ReferralBonus  VerifierConfig `json:"referral_bonus"`
	DailyStreak    VerifierConfig `json:"daily_streak"`
	BonusEvent     VerifierConfig `json:"bonus_event"`
}

// AnomalyConfig holds the thresholds for the anomaly monitor.
type AnomalyConfig struct {
	// An action with value >= HighValueThreshold counts as high-value.
	HighValueThreshold int64 `json:"high_value_threshold"`
	// More than MaxHighValue high-value actions inside WindowSec flags the principal.
	MaxHighValue int `json:"max_high_value"`
	WindowSec    int `json:"window_sec"`
	// HistorySize bounds the per-principal recent-action window.
	HistorySize int `json:"history_size"`
	// QueueSize bounds the observation channel; observations beyond it are dropped.
	QueueSize int `json:"queue_size"`
}

// Config holds all configurable service parameters.
type Config struct {
	LeaderboardSize  int `json:"leaderboard_size"`
	SnapshotTTLMS    int `json:"snapshot_ttl_ms"`
	LockTTLMS        int `json:"lock_ttl_ms"`
	RateLimitMax     int `json:"rate_limit_max"`
	RateWindowSec    int `json:"rate_window_sec"`
	RetryMax         int `json:"retry_max"`
	RetryBackoffMS   int `json:"retry_backoff_ms"`
	SubscriberBuffer int `json:"subscriber_buffer"`
	WSPort           int `json:"ws_port"`

	// DatabaseURL selects the Postgres ledger; empty selects the in-memory ledger.
	DatabaseURL string `json:"-"`
	// AuthBaseURL is the identity provider base URL for JWKS token verification.
	// Empty means header-based dev identity.
	AuthBaseURL string `json:"-"`

	Verifiers VerifiersConfig `json:"verifiers"`
	Anomaly   AnomalyConfig   `json:"anomaly"`
}

// Defaults returns a Config with all default values.
func Defaults() *Config {
	return &Config{
		LeaderboardSize:  10,
		SnapshotTTLMS:    5000,
		LockTTLMS:        5000,
		RateLimitMax:     10,
		RateWindowSec:    60,
		RetryMax:         3,
		RetryBackoffMS:   50,
		SubscriberBuffer: 16,
		WSPort:           8080,
		Verifiers: VerifiersConfig{
			TaskCompletion: VerifierConfig{MinValue: 1, MaxValue: 100},
			ReferralBonus:  VerifierConfig{MinValue: 1, MaxValue: 500},
			DailyStreak:    VerifierConfig{MinValue: 1, MaxValue: 50},
			BonusEvent:     VerifierConfig{MinValue: 1, MaxValue: 1000},
		},
		Anomaly: AnomalyConfig{
			HighValueThreshold: 80,
			MaxHighValue:       5,
			WindowSec:          60,
			HistorySize:        10,
			QueueSize:          1024,
		},
	}
}

// Load reads configuration from an optional config.json file,
// then applies environment variable overrides. Fields not set
// in either source retain their default values.
func Load() *Config {
	cfg := Defaults()

	if f, err := os.Open("config.json"); err == nil {
		defer f.Close()
		if err := json.NewDecoder(f).Decode(cfg); err != nil {
			log.Printf("Warning: failed to parse config.json: %v", err)
		}
	}

	overrideInt(&cfg.LeaderboardSize, "LEADERBOARD_SIZE")
	overrideInt(&cfg.SnapshotTTLMS, "SNAPSHOT_TTL_MS")
	overrideInt(&cfg.LockTTLMS, "LOCK_TTL_MS")
	overrideInt(&cfg.RateLimitMax, "RATE_LIMIT_MAX")
	overrideInt(&cfg.RateWindowSec, "RATE_WINDOW_SEC")
	overrideInt(&cfg.RetryMax, "RETRY_MAX")
	overrideInt(&cfg.RetryBackoffMS, "RETRY_BACKOFF_MS")
	overrideInt(&cfg.SubscriberBuffer, "SUBSCRIBER_BUFFER")
	overrideInt(&cfg.WSPort, "WS_PORT")
	overrideInt64(&cfg.Verifiers.TaskCompletion.MaxValue, "VERIFIER_TASK_COMPLETION_MAX")
	overrideInt64(&cfg.Verifiers.ReferralBonus.MaxValue, "VERIFIER_REFERRAL_BONUS_MAX")
	overrideInt64(&cfg.Verifiers.DailyStreak.MaxValue, "VERIFIER_DAILY_STREAK_MAX")
	overrideInt64(&cfg.Verifiers.BonusEvent.MaxValue, "VERIFIER_BONUS_EVENT_MAX")
	overrideInt64(&cfg.Anomaly.HighValueThreshold, "ANOMALY_HIGH_VALUE_THRESHOLD")
	overrideInt(&cfg.Anomaly.MaxHighValue, "ANOMALY_MAX_HIGH_VALUE")
	overrideInt(&cfg.Anomaly.WindowSec, "ANOMALY_WINDOW_SEC")
	overrideString(&cfg.DatabaseURL, "DATABASE_URL")
	overrideString(&cfg.AuthBaseURL, "AUTH_BASE_URL")

	return cfg
}

func overrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*field = n
		} else {
			log.Printf("Warning: invalid value for %s: %q", envKey, val)
		}
	}
}

func overrideInt64(field *int64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			*field = n
		} else {
			log.Printf("Warning: invalid value for %s: %q", envKey, val)
		}
	}
}

func overrideString(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}
