package dispatch

import (
	"context"
	"sync"

	"github.com/daoch4n/claude-any-router-proxy/pkg/mapping"
	"golang.org/x/time/rate"
)

// limiterSet holds one token bucket per backend family, so a burst against
// one backend never starves another. It sits in front of the retry loop
// (SPEC_FULL §4.7, §5): a request waits for one token before its first
// attempt; retried attempts do not wait for another.
type limiterSet struct {
	mu       sync.Mutex
	perSec   int
	burst    int
	limiters map[mapping.Backend]*rate.Limiter
}

func newLimiterSet(perSecond, burst int) *limiterSet {
	return &limiterSet{perSec: perSecond, burst: burst, limiters: make(map[mapping.Backend]*rate.Limiter)}
}

func (s *limiterSet) get(backend mapping.Backend) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[backend]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.perSec), s.burst)
		s.limiters[backend] = l
	}
	return l
}

// Wait blocks until a token is available for backend or ctx is done.
func (s *limiterSet) Wait(ctx context.Context, backend mapping.Backend) error {
	return s.get(backend).Wait(ctx)
}
