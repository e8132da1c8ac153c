// Package metrics holds the prometheus collectors shared by the control
// plane. It is a one-way diagnostics sink: nothing reads these values back
// to make control decisions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	// monitor
	CPUPercent      prometheus.Gauge
	MemPercent      prometheus.Gauge
	PressureLevel   prometheus.Gauge
	SpawnMultiplier prometheus.Gauge

	// breaker
	BreakerState  prometheus.Gauge // 0=CLOSED 1=OPEN 2=HALF_OPEN
	SpawnAttempts *prometheus.CounterVec

	// lifecycle / admission
	BotsActive  prometheus.Gauge
	Transitions *prometheus.CounterVec

	// session pool
	PoolActive prometheus.Gauge
	PoolIdle   prometheus.Gauge
	PoolHits   prometheus.Counter
	PoolMisses prometheus.Counter
}

// New builds and registers all collectors on reg. Tests pass a fresh
// prometheus.NewRegistry so parallel packages never collide.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "botherd", Name: "cpu_percent",
			Help: "Process CPU utilization, 30-sample average.",
		}),
		MemPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "botherd", Name: "mem_percent",
			Help: "Resident memory as a share of physical memory.",
		}),
		PressureLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "botherd", Name: "pressure_level",
			Help: "Host pressure: 0=NORMAL 1=ELEVATED 2=HIGH 3=CRITICAL.",
		}),
		SpawnMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "botherd", Name: "spawn_rate_multiplier",
			Help: "Admission throttle factor derived from pressure.",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "botherd", Name: "breaker_state",
			Help: "Spawn circuit breaker: 0=CLOSED 1=OPEN 2=HALF_OPEN.",
		}),
		SpawnAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "botherd", Name: "spawn_attempts_total",
			Help: "Spawn admission attempts by result.",
		}, []string{"result"}),
		BotsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "botherd", Name: "bots_active",
			Help: "Bots currently in the ACTIVE lifecycle state.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "botherd", Name: "lifecycle_transitions_total",
			Help: "Successful lifecycle transitions by target state.",
		}, []string{"to"}),
		PoolActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "botherd", Name: "session_pool_active",
			Help: "Sessions currently handed out.",
		}),
		PoolIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "botherd", Name: "session_pool_idle",
			Help: "Sessions resting in the pool.",
		}),
		PoolHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "botherd", Name: "session_pool_hits_total",
			Help: "Acquisitions served from the pool.",
		}),
		PoolMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "botherd", Name: "session_pool_misses_total",
			Help: "Acquisitions that built a fresh session.",
		}),
	}
	reg.MustRegister(
		m.CPUPercent, m.MemPercent, m.PressureLevel, m.SpawnMultiplier,
		m.BreakerState, m.SpawnAttempts,
		m.BotsActive, m.Transitions,
		m.PoolActive, m.PoolIdle, m.PoolHits, m.PoolMisses,
	)
	return m
}
