// Package observability exposes process metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Core counters. Registered on the default registry; the serve
// command exposes them on the standard /metrics handler.
var (
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_turns_total",
		Help: "Agent turns processed, by originating channel.",
	}, []string{"channel"})

	ToolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_tool_executions_total",
		Help: "Tool executions, by tool and result status.",
	}, []string{"tool", "status"})

	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_rate_limit_rejections_total",
		Help: "Tool calls rejected by the rate limiter.",
	})

	ProviderErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_provider_errors_total",
		Help: "LLM provider call failures.",
	})

	CronFires = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_cron_fires_total",
		Help: "Scheduled jobs fired.",
	})
)
