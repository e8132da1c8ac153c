package admission

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/l1jgo/botherd/internal/config"
	"github.com/l1jgo/botherd/internal/core/event"
	"github.com/l1jgo/botherd/internal/data"
	"github.com/l1jgo/botherd/internal/lifecycle"
	"github.com/l1jgo/botherd/internal/monitor"
	"github.com/l1jgo/botherd/internal/persist"
	"github.com/l1jgo/botherd/internal/session"
	"github.com/l1jgo/botherd/internal/world"
)

// stubSampler gives the monitor fixed readings. Memory share drives the
// pressure level directly, so tests pick rss/total to set the class.
type stubSampler struct {
	rss, total uint64
}

func (s stubSampler) CPUTime() (time.Duration, error)   { return 0, nil }
func (s stubSampler) ResidentMemory() (uint64, error)   { return s.rss, nil }
func (s stubSampler) TotalMemory() (uint64, error)      { return s.total, nil }

// fakeStore is an in-memory BotStore with switchable failure injection.
type fakeStore struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]persist.BotRow
	retired map[uuid.UUID]bool
	loadErr error
	saveErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:    make(map[uuid.UUID]persist.BotRow),
		retired: make(map[uuid.UUID]bool),
	}
}

func (f *fakeStore) LoadBot(_ context.Context, id uuid.UUID) (*persist.BotRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if r, ok := f.rows[id]; ok && !f.retired[id] {
		out := r
		return &out, nil
	}
	return nil, nil
}

func (f *fakeStore) SaveBot(_ context.Context, b *persist.BotRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.rows[b.ID] = *b
	return nil
}

func (f *fakeStore) RetireBot(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retired[id] = true
	return nil
}

func (f *fakeStore) retiredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.retired)
}

func writeArchetypeFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archetype_list.yaml")
	content := `archetypes:
  - key: idler
    name: idler
    class_type: 0
    min_level: 5
    max_level: 10
    map_id: 4
    spawn_x: 100
    spawn_y: 200
    weight: 1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

type directorFixture struct {
	dir     *Director
	mock    *clock.Mock
	store   *fakeStore
	state   *world.State
	pool    *session.Pool
	breaker *CircuitBreaker
	mon     *monitor.Monitor
	bus     *event.Bus
}

func newDirectorFixture(t *testing.T, admCfg config.AdmissionConfig, samp monitor.Sampler) *directorFixture {
	t.Helper()
	mock := clock.NewMock()
	log := zap.NewNop()

	table, err := data.LoadArchetypeTable(writeArchetypeFile(t))
	require.NoError(t, err)

	state := world.NewState(log)
	pool := session.NewPool(config.PoolConfig{
		InitialSize: 4, MinSize: 2, MaxSize: 32,
		CleanupInterval: 30 * time.Second,
		InQueueSize:     8, OutQueueSize: 8,
	}, mock, nil, log)
	pool.Initialize(4)

	mon := monitor.New(config.MonitorConfig{
		SampleInterval: time.Second,
		CPUElevated:    60, CPUHigh: 75, CPUCritical: 85,
		MemElevated: 70, MemHigh: 80, MemCritical: 90,
	}, samp, state, mock, nil, log)
	mon.ForceUpdate()

	breaker := NewCircuitBreaker(testBreakerConfig(), mock, nil, log)
	store := newFakeStore()
	bus := event.NewBus()

	dir := NewDirector(admCfg, mon, breaker, pool, state, store, table, nil, bus, mock, nil, log)
	return &directorFixture{
		dir: dir, mock: mock, store: store, state: state,
		pool: pool, breaker: breaker, mon: mon, bus: bus,
	}
}

func calmSampler() stubSampler {
	return stubSampler{rss: 1 << 28, total: 16 << 30}
}

func defaultAdmission() config.AdmissionConfig {
	return config.AdmissionConfig{
		MaxBots:        10,
		BaseWaveSize:   3,
		PhaseBudget:    10 * time.Second,
		RemoveWaveSize: 2,
	}
}

func TestAdmissionWaveActivatesBots(t *testing.T) {
	fx := newDirectorFixture(t, defaultAdmission(), calmSampler())
	ctx := context.Background()

	fx.dir.Tick(ctx)

	assert.Equal(t, 3, fx.dir.ManagedCount())
	assert.Equal(t, 3, fx.state.BotCount())
	assert.Equal(t, 3, fx.pool.Stats().Active)

	st := fx.breaker.Stats()
	assert.Equal(t, uint64(3), st.TotalAttempts)
	assert.Equal(t, uint64(0), st.TotalFailures)

	fx.state.AllBots(func(b *world.BotInfo) {
		mgr := fx.dir.Manager(b.ID)
		require.NotNil(t, mgr)
		assert.Equal(t, lifecycle.StateActive, mgr.State())
		assert.Equal(t, "idler", b.Archetype)
		assert.NotNil(t, b.Session)
	})
}

func TestAdmissionStopsAtPopulationCap(t *testing.T) {
	cfg := defaultAdmission()
	cfg.MaxBots = 4
	fx := newDirectorFixture(t, cfg, calmSampler())
	ctx := context.Background()

	fx.dir.Tick(ctx)
	fx.dir.Tick(ctx)
	fx.dir.Tick(ctx)

	assert.Equal(t, 4, fx.dir.ManagedCount(), "never exceeds max_bots")
}

func TestFreshBotsArePersisted(t *testing.T) {
	fx := newDirectorFixture(t, defaultAdmission(), calmSampler())
	fx.dir.Tick(context.Background())

	fx.store.mu.Lock()
	defer fx.store.mu.Unlock()
	assert.Len(t, fx.store.rows, 3, "each fresh bot written through on creation")
	for _, r := range fx.store.rows {
		assert.Equal(t, "idler", r.Archetype)
		assert.GreaterOrEqual(t, r.Level, int16(5))
		assert.LessOrEqual(t, r.Level, int16(10))
	}
}

func TestStoreFailureFailsTheBotAndTripsNothing(t *testing.T) {
	fx := newDirectorFixture(t, defaultAdmission(), calmSampler())
	fx.store.loadErr = context.DeadlineExceeded

	fx.dir.Tick(context.Background())

	assert.Equal(t, 0, fx.dir.ManagedCount(), "failed bots are destroyed and forgotten")
	assert.Equal(t, 0, fx.state.BotCount())
	assert.Equal(t, 0, fx.pool.Stats().Active, "sessions recovered from failed admissions")

	st := fx.breaker.Stats()
	assert.Equal(t, uint64(3), st.TotalFailures)
	assert.Equal(t, BreakerClosed, st.State, "three failures are below the minimum sample size")
}

func TestSustainedFailuresOpenBreakerAndHaltAdmission(t *testing.T) {
	fx := newDirectorFixture(t, defaultAdmission(), calmSampler())
	fx.store.loadErr = context.DeadlineExceeded
	ctx := context.Background()

	// 7 ticks × 3 attempts = 21 failed samples
	for i := 0; i < 7; i++ {
		fx.mock.Add(200 * time.Millisecond)
		fx.breaker.Evaluate()
		fx.dir.Tick(ctx)
	}
	fx.breaker.Evaluate()
	require.Equal(t, BreakerOpen, fx.breaker.State())

	before := fx.breaker.Stats().TotalAttempts
	fx.dir.Tick(ctx)
	assert.Equal(t, before, fx.breaker.Stats().TotalAttempts, "open breaker admits nothing")
}

func TestCriticalPressureStopsAdmission(t *testing.T) {
	// 95% memory puts the monitor straight into CRITICAL
	fx := newDirectorFixture(t, defaultAdmission(), stubSampler{rss: 95, total: 100})
	require.False(t, fx.mon.IsSpawningSafe())

	fx.dir.Tick(context.Background())

	assert.Equal(t, 0, fx.dir.ManagedCount())
	mult, safe := fx.state.Throttle()
	assert.Equal(t, 0.0, mult, "throttle edge pushed to the world")
	assert.False(t, safe)
}

func TestRemoveTearsDownAndRecyclesSession(t *testing.T) {
	fx := newDirectorFixture(t, defaultAdmission(), calmSampler())
	ctx := context.Background()
	fx.dir.Tick(ctx)
	require.Equal(t, 3, fx.dir.ManagedCount())

	var target uuid.UUID
	fx.state.AllBots(func(b *world.BotInfo) { target = b.ID })

	require.True(t, fx.dir.Remove(ctx, target))
	assert.Equal(t, 2, fx.dir.ManagedCount())
	assert.Equal(t, 2, fx.state.BotCount())
	assert.Equal(t, 2, fx.pool.Stats().Active)
	assert.Equal(t, 1, fx.store.retiredCount(), "orderly removal retires the record")

	assert.False(t, fx.dir.Remove(ctx, target), "unknown after teardown")
	assert.False(t, fx.dir.Remove(ctx, uuid.New()))
}

func TestWatchdogForceFailsStuckBots(t *testing.T) {
	fx := newDirectorFixture(t, defaultAdmission(), calmSampler())

	// plant a manager stuck in LOADING_DATA
	stuck := lifecycle.NewManager(uuid.New(), fx.mock, zap.NewNop())
	require.True(t, stuck.StartDataLoad())
	fx.dir.managers[stuck.BotID()] = stuck

	fx.mock.Add(9 * time.Second)
	fx.dir.runWatchdog()
	assert.Equal(t, lifecycle.StateLoadingData, stuck.State(), "inside the phase budget")

	fx.mock.Add(2 * time.Second)
	fx.dir.runWatchdog()
	assert.Equal(t, lifecycle.StateDestroyed, stuck.State(), "force-failed then destroyed")
	assert.Nil(t, fx.dir.Manager(stuck.BotID()))

	hist := stuck.History()
	require.GreaterOrEqual(t, len(hist), 2)
	assert.Equal(t, lifecycle.StateFailed, hist[len(hist)-2].To)
}

func TestNotifyQueuesForInitializingBot(t *testing.T) {
	fx := newDirectorFixture(t, defaultAdmission(), calmSampler())

	pending := lifecycle.NewManager(uuid.New(), fx.mock, zap.NewNop())
	require.True(t, pending.StartDataLoad())
	fx.dir.managers[pending.BotID()] = pending

	fx.dir.Notify(pending.BotID(), &lifecycle.Event{Kind: lifecycle.EventChat})
	assert.Equal(t, 1, pending.QueuedEventCount())

	fx.dir.Notify(uuid.New(), &lifecycle.Event{Kind: lifecycle.EventChat}) // unknown: ignored
}

func TestNotifyDeliversToActiveBot(t *testing.T) {
	fx := newDirectorFixture(t, defaultAdmission(), calmSampler())
	fx.dir.Tick(context.Background())

	var target *world.BotInfo
	fx.state.AllBots(func(b *world.BotInfo) { target = b })
	require.NotNil(t, target)

	fx.dir.Notify(target.ID, &lifecycle.Event{Kind: lifecycle.EventDamage})
	require.Len(t, target.Session.InQueue, 1)
	frame := <-target.Session.InQueue
	assert.Equal(t, []byte{byte(lifecycle.EventDamage)}, frame)
}

func TestBusCarriesActivationAndRetirement(t *testing.T) {
	fx := newDirectorFixture(t, defaultAdmission(), calmSampler())
	ctx := context.Background()

	var activated, retired int
	event.Subscribe(fx.bus, func(event.BotActivated) { activated++ })
	event.Subscribe(fx.bus, func(event.BotRetired) { retired++ })

	fx.dir.Tick(ctx)
	var target uuid.UUID
	fx.state.AllBots(func(b *world.BotInfo) { target = b.ID })
	require.True(t, fx.dir.Remove(ctx, target))

	fx.bus.SwapBuffers()
	fx.bus.DispatchAll()
	assert.Equal(t, 3, activated)
	assert.Equal(t, 1, retired)
}

func TestSaveDirtyPersistsAndClears(t *testing.T) {
	fx := newDirectorFixture(t, defaultAdmission(), calmSampler())
	ctx := context.Background()
	fx.dir.Tick(ctx)

	fx.state.AllBots(func(b *world.BotInfo) {
		b.X += 10
		b.Dirty = true
	})
	assert.Equal(t, 3, fx.dir.SaveDirty(ctx))

	clean := 0
	fx.state.AllBots(func(b *world.BotInfo) {
		if !b.Dirty {
			clean++
		}
	})
	assert.Equal(t, 3, clean)
	assert.Equal(t, 0, fx.dir.SaveDirty(ctx), "nothing dirty on the second pass")
}

func TestHalfOpenAdmitsSingleProbe(t *testing.T) {
	fx := newDirectorFixture(t, defaultAdmission(), calmSampler())
	ctx := context.Background()

	fx.store.loadErr = context.DeadlineExceeded
	for i := 0; i < 7; i++ {
		fx.mock.Add(200 * time.Millisecond)
		fx.breaker.Evaluate()
		fx.dir.Tick(ctx)
	}
	fx.breaker.Evaluate()
	require.Equal(t, BreakerOpen, fx.breaker.State())

	fx.store.loadErr = nil
	fx.mock.Add(30 * time.Second)
	fx.breaker.Evaluate()
	require.Equal(t, BreakerHalfOpen, fx.breaker.State())

	fx.dir.Tick(ctx)
	assert.Equal(t, 1, fx.dir.ManagedCount(), "half-open allows exactly one probe per interval")

	st := fx.breaker.Stats()
	assert.Equal(t, 0, st.ConsecutiveFailures)
}
