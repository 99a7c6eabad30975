// Package ratelimit provides sliding-window rate limiting for tool
// executions.
package ratelimit

import (
	"sync"
	"time"
)

// Window is the sliding window all limits are evaluated over.
const Window = time.Minute

// Config configures the tool rate limiter.
type Config struct {
	// PerTool caps calls per tool across all sessions. Tools not
	// listed are unlimited at this layer.
	PerTool map[string]int `yaml:"per_tool"`

	// PerSessionPerTool caps calls to one tool from one session.
	PerSessionPerTool int `yaml:"per_session_per_tool"`

	// Global caps all tool calls across the process.
	Global int `yaml:"global"`
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		PerTool: map[string]int{
			"exec":       10,
			"web_fetch":  20,
			"web_search": 10,
		},
		PerSessionPerTool: 30,
		Global:            100,
	}
}

// Limiter tracks call timestamps in keyed lists and prunes expired
// entries on each check. Safe for concurrent use.
type Limiter struct {
	config Config
	now    func() time.Time

	mu    sync.Mutex
	calls map[string][]time.Time
}

// NewLimiter creates a limiter with the given config. Zero limits
// fall back to defaults.
func NewLimiter(config Config) *Limiter {
	def := DefaultConfig()
	if config.PerTool == nil {
		config.PerTool = def.PerTool
	}
	if config.PerSessionPerTool <= 0 {
		config.PerSessionPerTool = def.PerSessionPerTool
	}
	if config.Global <= 0 {
		config.Global = def.Global
	}
	return &Limiter{
		config: config,
		now:    time.Now,
		calls:  make(map[string][]time.Time),
	}
}

const (
	globalKey     = "global"
	toolPrefix    = "tool:"
	sessionPrefix = "session:"
)

// Allow reports whether a call to tool from sessionKey is within all
// limits. It does not record the call; use Record after the tool
// actually executed.
func (l *Limiter) Allow(tool, sessionKey string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit, ok := l.config.PerTool[tool]; ok {
		if l.countLocked(toolPrefix+tool, now) >= limit {
			return false
		}
	}
	if l.countLocked(sessionPrefix+sessionKey+":"+tool, now) >= l.config.PerSessionPerTool {
		return false
	}
	return l.countLocked(globalKey, now) < l.config.Global
}

// Record registers a completed call against all applicable keys.
func (l *Limiter) Record(tool, sessionKey string) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[toolPrefix+tool] = append(l.calls[toolPrefix+tool], now)
	key := sessionPrefix + sessionKey + ":" + tool
	l.calls[key] = append(l.calls[key], now)
	l.calls[globalKey] = append(l.calls[globalKey], now)
}

// countLocked prunes expired entries for key and returns the count
// of calls still inside the window. Caller holds l.mu.
func (l *Limiter) countLocked(key string, now time.Time) int {
	times := l.calls[key]
	cutoff := now.Add(-Window)
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		times = times[i:]
		if len(times) == 0 {
			delete(l.calls, key)
		} else {
			l.calls[key] = times
		}
	}
	return len(times)
}
