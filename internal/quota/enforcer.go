package quota

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/plantpal/backend/internal/metrics"
	"github.com/plantpal/backend/pkg/logger"
)

// Scope is one of the three usage ceilings gating assistant calls.
type Scope string

const (
	ScopePerMinute   Scope = "per_minute"
	ScopeUserDaily   Scope = "user_daily"
	ScopeGlobalDaily Scope = "global_daily"
)

// ExceededError reports which scope ran out. The first exhausted scope in
// checking order wins, so a global per-minute ceiling is reported as such
// rather than blaming the user's own budget.
type ExceededError struct {
	Scope Scope
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %s", e.Scope)
}

// Reservation asks for one unit against a bounded counter. Key encodes the
// window start, so counters reset by key rotation rather than a reset job.
type Reservation struct {
	Key    string
	Limit  int64
	Window time.Duration
}

// CounterStore is the atomic bounded-counter arena. ReserveAll increments
// every counter or none; two concurrent callers must never both take the
// last remaining unit.
type CounterStore interface {
	// ReserveAll returns the index of the first exhausted reservation,
	// or -1 when all were reserved.
	ReserveAll(ctx context.Context, reservations []Reservation) (int, error)
}

type Limits struct {
	PerMinute   int64
	UserDaily   int64
	GlobalDaily int64
}

type Enforcer struct {
	store  CounterStore
	limits Limits
	now    func() time.Time
}

func NewEnforcer(store CounterStore, limits Limits) *Enforcer {
	return &Enforcer{
		store:  store,
		limits: limits,
		now:    time.Now,
	}
}

var tierScopes = []Scope{ScopePerMinute, ScopeUserDaily, ScopeGlobalDaily}

// CheckAndReserve reserves one unit against all three scopes as a single
// atomic step. The tiers are checked in a fixed order: per-minute global,
// per-user daily, global daily.
func (e *Enforcer) CheckAndReserve(ctx context.Context, userID string) error {
	now := e.now().UTC()

	reservations := []Reservation{
		{Key: "quota:minute:" + now.Format("200601021504"), Limit: e.limits.PerMinute, Window: time.Minute},
		{Key: "quota:day:user:" + userID + ":" + now.Format("20060102"), Limit: e.limits.UserDaily, Window: 24 * time.Hour},
		{Key: "quota:day:global:" + now.Format("20060102"), Limit: e.limits.GlobalDaily, Window: 24 * time.Hour},
	}

	denied, err := e.store.ReserveAll(ctx, reservations)
	if err != nil {
		return fmt.Errorf("quota check failed: %w", err)
	}

	if denied >= 0 {
		scope := tierScopes[denied]
		logger.Warn("Quota exhausted",
			zap.String("scope", string(scope)),
			zap.String("user_id", userID),
		)
		metrics.QuotaDenials.WithLabelValues(string(scope)).Inc()
		return &ExceededError{Scope: scope}
	}

	return nil
}
