package monitor

import (
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/l1jgo/botherd/internal/config"
	"github.com/l1jgo/botherd/internal/metrics"
)

// WorkloadSource is the world collaborator hook: the monitor pulls a
// coarse workload size from it each sample. Must never be called while the
// monitor holds its own lock.
type WorkloadSource interface {
	BotCount() int
	InstanceCount() int
}

// ResourceMetrics is the composite snapshot recomputed wholesale each
// sampling tick; readers always see one consistent tick's values.
type ResourceMetrics struct {
	CPUPercent      float64 // instantaneous
	CPUAvg5         float64
	CPUAvg30        float64
	CPUAvg60        float64
	MemPercent      float64
	WorkingSetBytes uint64
	Bots            int
	Instances       int
	SampledAt       time.Time
}

// Monitor samples host load on a fixed cadence and derives the pressure
// signal the admission layer throttles on. The tick thread drives Tick;
// snapshot readers may come from any goroutine.
type Monitor struct {
	cfg     config.MonitorConfig
	clk     clock.Clock
	log     *zap.Logger
	met     *metrics.Metrics
	sampler Sampler
	world   WorkloadSource
	cores   int

	mu          sync.Mutex
	lastSample  time.Time
	lastCPUTime time.Duration
	haveBase    bool
	win5        *window
	win30       *window
	win60       *window
	snap        ResourceMetrics
	pressure    Pressure
}

func New(cfg config.MonitorConfig, sampler Sampler, world WorkloadSource, clk clock.Clock, met *metrics.Metrics, log *zap.Logger) *Monitor {
	return &Monitor{
		cfg:     cfg,
		clk:     clk,
		log:     log.Named("monitor"),
		met:     met,
		sampler: sampler,
		world:   world,
		cores:   runtime.NumCPU(),
		win5:    newWindow(5),
		win30:   newWindow(30),
		win60:   newWindow(60),
	}
}

// Tick performs a sample if the sampling interval has elapsed.
func (m *Monitor) Tick() {
	m.mu.Lock()
	due := m.lastSample.IsZero() || m.clk.Now().Sub(m.lastSample) >= m.cfg.SampleInterval
	m.mu.Unlock()
	if due {
		m.sample()
	}
}

// ForceUpdate resamples immediately, bypassing the interval gate. Used by
// diagnostics and tests.
func (m *Monitor) ForceUpdate() {
	m.sample()
}

func (m *Monitor) sample() {
	now := m.clk.Now()

	// Platform reads and the workload pull happen before taking m.mu.
	cpuTime, cpuErr := m.sampler.CPUTime()
	rss, rssErr := m.sampler.ResidentMemory()
	total, totalErr := m.sampler.TotalMemory()
	bots, instances := 0, 0
	if m.world != nil {
		bots = m.world.BotCount()
		instances = m.world.InstanceCount()
	}

	m.mu.Lock()
	cpuPct := 0.0
	if cpuErr != nil {
		m.log.Debug("cpu sample failed", zap.Error(cpuErr))
	} else if m.haveBase {
		wall := now.Sub(m.lastSample)
		if wall > 0 && m.cores > 0 {
			cpuPct = float64(cpuTime-m.lastCPUTime) / float64(wall) / float64(m.cores) * 100
			if cpuPct < 0 {
				cpuPct = 0
			}
		}
	}
	if cpuErr == nil {
		m.lastCPUTime = cpuTime
		m.haveBase = true
	}
	m.lastSample = now

	memPct := 0.0
	if rssErr != nil || totalErr != nil || total == 0 {
		if rssErr != nil {
			m.log.Debug("memory sample failed", zap.Error(rssErr))
		}
		if totalErr != nil {
			m.log.Debug("total memory read failed", zap.Error(totalErr))
		}
		rss = 0
	} else {
		memPct = float64(rss) / float64(total) * 100
	}

	m.win5.push(cpuPct)
	m.win30.push(cpuPct)
	m.win60.push(cpuPct)

	m.snap = ResourceMetrics{
		CPUPercent:      cpuPct,
		CPUAvg5:         m.win5.avg(),
		CPUAvg30:        m.win30.avg(),
		CPUAvg60:        m.win60.avg(),
		MemPercent:      memPct,
		WorkingSetBytes: rss,
		Bots:            bots,
		Instances:       instances,
		SampledAt:       now,
	}

	// CPU pressure uses the 30-sample average so spikes don't flap the gate.
	cpuP := classify(m.snap.CPUAvg30, m.cfg.CPUElevated, m.cfg.CPUHigh, m.cfg.CPUCritical)
	memP := classify(memPct, m.cfg.MemElevated, m.cfg.MemHigh, m.cfg.MemCritical)
	newPressure := maxPressure(cpuP, memP)
	old := m.pressure
	m.pressure = newPressure
	cpuAvg30 := m.snap.CPUAvg30
	m.mu.Unlock()

	if m.met != nil {
		m.met.CPUPercent.Set(cpuAvg30)
		m.met.MemPercent.Set(memPct)
		m.met.PressureLevel.Set(float64(newPressure))
		m.met.SpawnMultiplier.Set(newPressure.Multiplier())
	}
	if newPressure != old {
		m.log.Info("pressure changed",
			zap.String("from", old.String()),
			zap.String("to", newPressure.String()),
			zap.Float64("cpu_avg30", cpuAvg30),
			zap.Float64("mem_pct", memPct))
	}
}

// Pressure returns the current classification.
func (m *Monitor) Pressure() Pressure {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pressure
}

// IsSpawningSafe is false only under CRITICAL pressure.
func (m *Monitor) IsSpawningSafe() bool {
	return m.Pressure() != PressureCritical
}

// GetSpawnRateMultiplier maps the current pressure to a throttle factor.
func (m *Monitor) GetSpawnRateMultiplier() float64 {
	return m.Pressure().Multiplier()
}

// Snapshot returns the last composite sample.
func (m *Monitor) Snapshot() ResourceMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// window is a fixed-capacity FIFO of samples with a running sum.
type window struct {
	cap  int
	vals []float64
	sum  float64
}

func newWindow(capacity int) *window {
	return &window{cap: capacity, vals: make([]float64, 0, capacity)}
}

func (w *window) push(v float64) {
	if len(w.vals) == w.cap {
		w.sum -= w.vals[0]
		copy(w.vals, w.vals[1:])
		w.vals = w.vals[:w.cap-1]
	}
	w.vals = append(w.vals, v)
	w.sum += v
}

func (w *window) avg() float64 {
	if len(w.vals) == 0 {
		return 0
	}
	return w.sum / float64(len(w.vals))
}
