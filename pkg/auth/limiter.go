package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

func newLimiterPool(cfg SecConfig) *limiterPool {
	p := &limiterPool{m: make(map[string]*rate.Limiter), rps: cfg.RPS, burst: cfg.Burst}
	if p.rps <= 0 {
		p.rps = 5
	}
	if p.burst <= 0 {
		p.burst = 10
	}
	return p
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.m[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = l
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}
