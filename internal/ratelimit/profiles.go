package ratelimit

import (
	"strings"
	"sync"
)

// DefaultProfile bounds unknown script types.
var DefaultProfile = Config{CallsPerSecond: 1, CallsPerMinute: 60}

// DefaultProfiles holds per-script-type limits for the ad platform's
// documented quotas. Overridable via config.
var DefaultProfiles = map[string]Config{
	"reporting":    {CallsPerSecond: 2, CallsPerMinute: 100},
	"mutation":     {CallsPerSecond: 0.5, CallsPerMinute: 20},
	"bid_adjuster": {CallsPerSecond: 0.5, CallsPerMinute: 20},
	"audit":        {CallsPerSecond: 1, CallsPerMinute: 60},
}

// Registry hands out one limiter per stream name, creating it from the
// profile table on first use. Streams are typically script types, so all
// executions of one type share one rate budget.
type Registry struct {
	mu       sync.Mutex
	profiles map[string]Config
	fallback Config
	streams  map[string]*Limiter
}

func NewRegistry(profiles map[string]Config, fallback Config) *Registry {
	if profiles == nil {
		profiles = DefaultProfiles
	}
	if fallback.CallsPerSecond <= 0 && fallback.CallsPerMinute <= 0 {
		fallback = DefaultProfile
	}
	return &Registry{
		profiles: profiles,
		fallback: fallback,
		streams:  map[string]*Limiter{},
	}
}

// For returns the limiter owning the named stream.
func (r *Registry) For(stream string) *Limiter {
	stream = strings.TrimSpace(strings.ToLower(stream))

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.streams[stream]; ok {
		return l
	}
	cfg, ok := r.profiles[stream]
	if !ok {
		cfg = r.fallback
	}
	l := New(cfg)
	r.streams[stream] = l
	return l
}

// Apply replaces the profile table. Existing streams keep their limiter
// (and its recorded window); only new streams see the new profiles.
func (r *Registry) Apply(profiles map[string]Config, fallback Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if profiles != nil {
		r.profiles = profiles
	}
	if fallback.CallsPerSecond > 0 || fallback.CallsPerMinute > 0 {
		r.fallback = fallback
	}
}
