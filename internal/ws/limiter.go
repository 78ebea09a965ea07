package ws

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterPool holds one token bucket per sender. A bucket idle long enough to
// refill is indistinguishable from a new one, so those are dropped.
type limiterPool struct {
	mu        sync.Mutex
	rps       rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	senders   map[string]*sender
}

type sender struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const minIdle = time.Minute

func newLimiterPool(rps float64, burst int) *limiterPool {
	if burst < 1 {
		burst = 1
	}
	idle := minIdle
	if rps > 0 {
		if refill := time.Duration(float64(burst) / rps * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	return &limiterPool{rps: rate.Limit(rps), burst: burst, idle: idle, senders: make(map[string]*sender)}
}

func (p *limiterPool) allow(userID string) bool {
	return p.allowAt(userID, time.Now())
}

func (p *limiterPool) allowAt(userID string, now time.Time) bool {
	p.mu.Lock()
	if now.Sub(p.lastSweep) >= p.idle {
		p.sweep(now)
	}
	s, ok := p.senders[userID]
	if !ok {
		s = &sender{limiter: rate.NewLimiter(p.rps, p.burst)}
		p.senders[userID] = s
	}
	s.lastSeen = now
	p.mu.Unlock()
	return s.limiter.AllowN(now, 1)
}

// sweep drops senders idle for longer than p.idle. Callers hold p.mu.
func (p *limiterPool) sweep(now time.Time) {
	for id, s := range p.senders {
		if now.Sub(s.lastSeen) > p.idle {
			delete(p.senders, id)
		}
	}
	p.lastSweep = now
}

func (p *limiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.senders)
}
