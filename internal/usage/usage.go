// Package usage enforces the per-user daily analysis quota.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Window is the quota period.
const Window = 24 * time.Hour

// anonymousUser is counted when a request carries no user ID.
const anonymousUser = "anonymous"

// Service counts analyses per tenant and user in fixed daily windows.
type Service struct {
	cache domain.Cache
	limit int64
	now   func() time.Time
}

// NewService creates a quota service. A limit of 0 disables enforcement.
func NewService(cache domain.Cache, limit int) *Service {
	return &Service{
		cache: cache,
		limit: int64(limit),
		now:   time.Now,
	}
}

// Limit returns the configured daily limit.
func (s *Service) Limit() int {
	return int(s.limit)
}

// Allow records one analysis for userID and reports how many remain today.
// It returns domain.ErrQuotaExceeded once the limit is passed.
func (s *Service) Allow(ctx context.Context, tenantID, userID string) (remaining int, err error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}
	if s.limit <= 0 || s.cache == nil {
		return -1, nil
	}
	if userID == "" {
		userID = anonymousUser
	}

	count, err := s.cache.IncrementCounter(ctx, tenantID, s.key(userID), Window)
	if err != nil {
		return 0, fmt.Errorf("failed to count usage: %w", err)
	}

	if count > s.limit {
		return 0, domain.ErrQuotaExceeded
	}
	return int(s.limit - count), nil
}

// key buckets counters by UTC day so the window also rolls over at midnight.
func (s *Service) key(userID string) string {
	return "usage:" + userID + ":" + s.now().UTC().Format("2006-01-02")
}
