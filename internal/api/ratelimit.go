package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	maxTrackedLimiters = 10000
	limiterIdleTTL     = 10 * time.Minute
)

type visitorLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet hands out one token bucket per visitor.
type limiterSet struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*visitorLimiter
	now      func() time.Time
}

func newLimiterSet(perSecond float64, burst int) *limiterSet {
	return &limiterSet{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*visitorLimiter),
		now:      time.Now,
	}
}

// allow reports whether visitorID may post now.
func (s *limiterSet) allow(visitorID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	vl, ok := s.limiters[visitorID]
	if !ok {
		if len(s.limiters) >= maxTrackedLimiters {
			s.pruneLocked(now)
		}
		vl = &visitorLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[visitorID] = vl
	}
	vl.lastSeen = now
	return vl.limiter.AllowN(now, 1)
}

func (s *limiterSet) pruneLocked(now time.Time) {
	for id, vl := range s.limiters {
		if now.Sub(vl.lastSeen) > limiterIdleTTL {
			delete(s.limiters, id)
		}
	}
}
