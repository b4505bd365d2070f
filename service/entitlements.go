package service

import (
	"context"
	"time"

	"github.com/membranehq/ai-agent-example/genai/memory"
	"github.com/membranehq/ai-agent-example/internal/chaterr"
)

// User types with distinct daily quotas.
const (
	UserTypeGuest   = "guest"
	UserTypeRegular = "regular"
)

// defaultQuotas apply when the config does not override a user type.
var defaultQuotas = map[string]int{
	UserTypeGuest:   20,
	UserTypeRegular: 100,
}

// Entitlements enforces the per-user daily message quota over a rolling
// 24-hour window.
type Entitlements struct {
	quotas map[string]int
	store  memory.Store
	now    func() time.Time
}

// NewEntitlements creates quota enforcement backed by the message store.
// Overrides missing from the map fall back to built-in defaults.
func NewEntitlements(store memory.Store, overrides map[string]int) *Entitlements {
	quotas := map[string]int{}
	for userType, quota := range defaultQuotas {
		quotas[userType] = quota
	}
	for userType, quota := range overrides {
		if quota > 0 {
			quotas[userType] = quota
		}
	}
	return &Entitlements{quotas: quotas, store: store, now: time.Now}
}

// Check returns a rate_limit error when the user has exhausted the daily
// quota for their type. Unknown user types get the guest quota.
func (e *Entitlements) Check(ctx context.Context, userID, userType string) error {
	quota, ok := e.quotas[userType]
	if !ok {
		quota = e.quotas[UserTypeGuest]
	}
	since := e.now().Add(-24 * time.Hour)
	count, err := e.store.MessageCountSince(ctx, userID, since)
	if err != nil {
		return chaterr.Wrap(chaterr.CodeBadRequest, chaterr.SurfaceAPI, err)
	}
	if count >= quota {
		return chaterr.New(chaterr.CodeRateLimit, chaterr.SurfaceChat)
	}
	return nil
}
