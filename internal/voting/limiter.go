package voting

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// loginLimiter throttles key guesses per client address.
type loginLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const visitorTTL = 10 * time.Minute

func newLoginLimiter(perMinute float64, burst int) *loginLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60)
	}
	return &loginLimiter{
		limit:    limit,
		burst:    burst,
		visitors: make(map[string]*visitor),
	}
}

func (l *loginLimiter) Allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for k, v := range l.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(l.visitors, k)
		}
	}

	v, ok := l.visitors[addr]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[addr] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}
