package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const analyzeBurst = 2

// AnalyzeLimiter throttles analysis requests per project.
type AnalyzeLimiter struct {
	limit    rate.Limit
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

// NewAnalyzeLimiter allows perMinute analysis calls per project with a small
// burst. A non-positive perMinute disables limiting.
func NewAnalyzeLimiter(perMinute int) *AnalyzeLimiter {
	if perMinute <= 0 {
		return &AnalyzeLimiter{limit: rate.Inf}
	}
	return &AnalyzeLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		limiters: make(map[int64]*rate.Limiter),
	}
}

// Allow reports whether an analysis call for projectID may proceed now.
func (l *AnalyzeLimiter) Allow(projectID int64) bool {
	if l == nil || l.limit == rate.Inf {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[projectID]
	if !ok {
		lim = rate.NewLimiter(l.limit, analyzeBurst)
		l.limiters[projectID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
