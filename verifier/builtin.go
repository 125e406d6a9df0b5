package verifier

import "time"

// maxClockSkew is how far in the future an occurred_at timestamp may be
// before a submission is rejected.
const maxClockSkew = 5 * time.Minute

func inBounds(value, min, max int64) bool {
	return value >= min && value <= max
}

func notFromFuture(occurredAt time.Time) bool {
	return !occurredAt.After(time.Now().Add(maxClockSkew))
}

// TaskCompletion scores ordinary completed tasks.
type TaskCompletion struct {
	Min, Max int64
}

func (v *TaskCompletion) ActionType() string  { return "task_completion" }
func (v *TaskCompletion) Description() string { return "Points awarded for a completed task." }
func (v *TaskCompletion) Bounds() (int64, int64) {
	return v.Min, v.Max
}
func (v *TaskCompletion) Verify(_ string, value int64, occurredAt time.Time) bool {
	return inBounds(value, v.Min, v.Max) && notFromFuture(occurredAt)
}

// ReferralBonus scores a confirmed referral.
type ReferralBonus struct {
	Min, Max int64
}

func (v *ReferralBonus) ActionType() string  { return "referral_bonus" }
func (v *ReferralBonus) Description() string { return "Points awarded when a referred user activates." }
func (v *ReferralBonus) Bounds() (int64, int64) {
	return v.Min, v.Max
}
func (v *ReferralBonus) Verify(_ string, value int64, occurredAt time.Time) bool {
	return inBounds(value, v.Min, v.Max) && notFromFuture(occurredAt)
}

// DailyStreak scores consecutive-day activity. Streak events are only valid
// close to when they happened; stale client retries are rejected.
type DailyStreak struct {
	Min, Max int64
}

// streakMaxAge is the oldest occurred_at accepted for a streak event.
const streakMaxAge = 48 * time.Hour

func (v *DailyStreak) ActionType() string  { return "daily_streak" }
func (v *DailyStreak) Description() string { return "Points awarded for consecutive days of activity." }
func (v *DailyStreak) Bounds() (int64, int64) {
	return v.Min, v.Max
}
func (v *DailyStreak) Verify(_ string, value int64, occurredAt time.Time) bool {
	if !inBounds(value, v.Min, v.Max) || !notFromFuture(occurredAt) {
		return false
	}
	return time.Since(occurredAt) <= streakMaxAge
}

// BonusEvent scores one-off promotional events.
type BonusEvent struct {
	Min, Max int64
}

func (v *BonusEvent) ActionType() string  { return "bonus_event" }
func (v *BonusEvent) Description() string { return "Points awarded by a promotional bonus event." }
func (v *BonusEvent) Bounds() (int64, int64) {
	return v.Min, v.Max
}
func (v *BonusEvent) Verify(_ string, value int64, occurredAt time.Time) bool {
	return inBounds(value, v.Min, v.Max) && notFromFuture(occurredAt)
}
