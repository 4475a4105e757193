// Package budget enforces per-company token-spend budgets over rolling
// UTC calendar windows (day and month).
//
// Admission always uses the pre-flight character-count estimate, never a
// provider-reported actual, so the check stays sound against concurrent
// in-flight requests. The ledger rows themselves carry provider actuals
// once a call succeeds. The check is optimistic: two concurrent requests
// can both pass and jointly overshoot a window by the sum of their
// estimates, a bounded and accepted race.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/strataops/strata/internal/model"
)

// Window names a budget accounting period.
type Window string

// Budget windows.
const (
	WindowDaily   Window = "daily"
	WindowMonthly Window = "monthly"
)

// ExceededError reports a budget violation with the figures the usage
// ledger records for the blocked attempt.
type ExceededError struct {
	Window   Window
	Used     int64
	Limit    int64
	Estimate int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("budget: %s token budget exceeded: used %d + estimated %d > limit %d",
		e.Window, e.Used, e.Estimate, e.Limit)
}

// UsageReader aggregates already-consumed tokens from the usage ledger.
type UsageReader interface {
	// SumTokensSince returns the sum of total_tokens across ledger rows
	// for the company created at or after since.
	SumTokensSince(ctx context.Context, companyID uuid.UUID, since time.Time) (int64, error)
}

// Ledger performs admission control against the two budget windows.
type Ledger struct {
	usage UsageReader
}

// New creates a budget ledger over the given usage reader.
func New(usage UsageReader) *Ledger {
	return &Ledger{usage: usage}
}

// EstimateTokens approximates the token cost of text with the
// one-token-per-four-characters heuristic, rounding up.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// DayStart returns UTC midnight of the day containing now.
func DayStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthStart returns UTC midnight of the first of the month containing now.
func MonthStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Check admits or rejects a request estimated to cost estimate tokens.
// Both windows are evaluated; the daily window takes precedence in
// reporting. A budget of 0 means unlimited for that window.
func (l *Ledger) Check(ctx context.Context, companyID uuid.UUID, settings model.CompanyAISettings, estimate int64, now time.Time) error {
	if settings.DailyTokenBudget > 0 {
		used, err := l.usage.SumTokensSince(ctx, companyID, DayStart(now))
		if err != nil {
			return fmt.Errorf("budget: sum daily usage: %w", err)
		}
		if used+estimate > settings.DailyTokenBudget {
			return &ExceededError{Window: WindowDaily, Used: used, Limit: settings.DailyTokenBudget, Estimate: estimate}
		}
	}

	if settings.MonthlyTokenBudget > 0 {
		used, err := l.usage.SumTokensSince(ctx, companyID, MonthStart(now))
		if err != nil {
			return fmt.Errorf("budget: sum monthly usage: %w", err)
		}
		if used+estimate > settings.MonthlyTokenBudget {
			return &ExceededError{Window: WindowMonthly, Used: used, Limit: settings.MonthlyTokenBudget, Estimate: estimate}
		}
	}

	return nil
}
