package diagnostics

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	slogctx "github.com/veqryn/slog-context"
)

const (
	ServiceDatabase      = "database"
	ServiceSessionSource = "sessionSource"

	ServiceDisabled = "disabled"

	healthKey   = "health"
	pingTimeout = 3 * time.Second
)

// Pinger is anything that can prove it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthReport struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

type Health struct {
	services map[string]Pinger
	cache    *cache.Cache
	ttl      time.Duration
	now      func() time.Time
}

type HealthOption func(*Health)

// WithService adds a dependency to the report. A nil pinger is reported as
// disabled and does not fail the check.
func WithService(name string, p Pinger) HealthOption {
	return func(h *Health) {
		h.services[name] = p
	}
}

// NewHealth returns a checker that caches its report for ttl.
func NewHealth(ttl time.Duration, opts ...HealthOption) *Health {
	h := &Health{
		services: make(map[string]Pinger),
		// no janitor goroutine, expiry is checked on read
		cache: cache.New(ttl, 0),
		ttl:   ttl,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Check returns the cached report or probes every service.
func (h *Health) Check(ctx context.Context) HealthReport {
	if h.ttl > 0 {
		if cached, ok := h.cache.Get(healthKey); ok {
			if r, ok := cached.(HealthReport); ok {
				return r
			}
		}
	}

	r := HealthReport{
		Status:    StatusOK,
		Timestamp: h.now().UTC(),
		Services:  make(map[string]string, len(h.services)),
	}

	for name, p := range h.services {
		if p == nil {
			r.Services[name] = ServiceDisabled
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := p.Ping(pingCtx)
		cancel()

		if err != nil {
			slogctx.Warn(ctx, "Health check failed", "service", name, "error", err)
			r.Services[name] = StatusError
			r.Status = StatusError
			continue
		}
		r.Services[name] = StatusOK
	}

	if h.ttl > 0 {
		h.cache.Set(healthKey, r, h.ttl)
	}

	return r
}
