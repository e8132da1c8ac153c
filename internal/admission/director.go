package admission

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/l1jgo/botherd/internal/config"
	"github.com/l1jgo/botherd/internal/core/event"
	"github.com/l1jgo/botherd/internal/data"
	"github.com/l1jgo/botherd/internal/lifecycle"
	"github.com/l1jgo/botherd/internal/metrics"
	"github.com/l1jgo/botherd/internal/monitor"
	"github.com/l1jgo/botherd/internal/persist"
	"github.com/l1jgo/botherd/internal/session"
	"github.com/l1jgo/botherd/internal/world"
)

// BotStore is the narrow persistence surface the director loads and saves
// bots through.
type BotStore interface {
	LoadBot(ctx context.Context, id uuid.UUID) (*persist.BotRow, error)
	SaveBot(ctx context.Context, b *persist.BotRow) error
	RetireBot(ctx context.Context, id uuid.UUID) error
}

// WavePolicy sizes an admission wave; the Lua engine implements it, and a
// nil policy falls back to base wave × multiplier.
type WavePolicy interface {
	SpawnWave(ctx WaveInputs) int
}

// WaveInputs mirrors scripting.WaveContext without importing it, so the
// director stays testable with a plain func policy.
type WaveInputs struct {
	Population   int
	MaxBots      int
	BaseWave     int
	Pressure     int
	Multiplier   float64
	BreakerState string
	FailureRate  float64
}

// Director owns the admission pipeline: each control tick it consults the
// resource monitor, the circuit breaker, and the session pool, then drives
// admitted bots through CREATED→…→ACTIVE. It is the sole caller of
// per-bot lifecycle transitions, on the tick goroutine.
type Director struct {
	cfg        config.AdmissionConfig
	clk        clock.Clock
	log        *zap.Logger
	met        *metrics.Metrics
	mon        *monitor.Monitor
	breaker    *CircuitBreaker
	pool       *session.Pool
	state      *world.State
	store      BotStore
	archetypes *data.ArchetypeTable
	policy     WavePolicy
	bus        *event.Bus

	managers map[uuid.UUID]*lifecycle.Manager

	// last throttle notice pushed to the world collaborator
	lastMult float64
	lastSafe bool
}

func NewDirector(
	cfg config.AdmissionConfig,
	mon *monitor.Monitor,
	breaker *CircuitBreaker,
	pool *session.Pool,
	state *world.State,
	store BotStore,
	archetypes *data.ArchetypeTable,
	policy WavePolicy,
	bus *event.Bus,
	clk clock.Clock,
	met *metrics.Metrics,
	log *zap.Logger,
) *Director {
	return &Director{
		cfg:        cfg,
		clk:        clk,
		log:        log.Named("director"),
		met:        met,
		mon:        mon,
		breaker:    breaker,
		pool:       pool,
		state:      state,
		store:      store,
		archetypes: archetypes,
		policy:     policy,
		bus:        bus,
		managers:   make(map[uuid.UUID]*lifecycle.Manager),
		lastMult:   1.0,
		lastSafe:   true,
	}
}

// Manager returns the lifecycle manager governing a bot, or nil.
func (d *Director) Manager(id uuid.UUID) *lifecycle.Manager {
	return d.managers[id]
}

// ManagedCount returns the number of bots currently governed, in any state.
func (d *Director) ManagedCount() int {
	return len(d.managers)
}

// Tick runs one admission pass. Called once per control tick by the
// simulation loop, after the monitor has sampled and the breaker evaluated.
func (d *Director) Tick(ctx context.Context) {
	mult := d.mon.GetSpawnRateMultiplier()
	safe := d.mon.IsSpawningSafe()
	if mult != d.lastMult || safe != d.lastSafe {
		d.lastMult, d.lastSafe = mult, safe
		// outside any lock held here, per the collaborator contract
		d.state.ApplyThrottle(mult, safe)
		if d.bus != nil {
			event.Emit(d.bus, event.ThrottleChanged{Multiplier: mult, SpawnSafe: safe})
		}
	}

	d.runWatchdog()

	population := len(d.managers)
	if population > d.cfg.MaxBots {
		d.removeWave(ctx, population-d.cfg.MaxBots)
		return
	}

	if !safe {
		return
	}
	wave := d.waveSize(population, mult)
	if room := d.cfg.MaxBots - population; wave > room {
		wave = room
	}
	for i := 0; i < wave; i++ {
		if !d.breaker.AllowSpawn() {
			break
		}
		d.admitOne(ctx)
	}
}

// waveSize asks the policy for this tick's base admission count.
func (d *Director) waveSize(population int, mult float64) int {
	stats := d.breaker.Stats()
	in := WaveInputs{
		Population:   population,
		MaxBots:      d.cfg.MaxBots,
		BaseWave:     d.cfg.BaseWaveSize,
		Pressure:     int(d.mon.Pressure()),
		Multiplier:   mult,
		BreakerState: stats.State.String(),
		FailureRate:  stats.FailureRate,
	}
	if d.policy == nil {
		return int(float64(in.BaseWave) * mult)
	}
	return d.policy.SpawnWave(in)
}

// admitOne drives a single bot through the full initialization sequence.
// Any phase error records a breaker failure and force-fails the bot.
func (d *Director) admitOne(ctx context.Context) {
	botID := uuid.New()
	sess := d.pool.Acquire(botID)
	mgr := lifecycle.NewManager(botID, d.clk, d.log)
	d.managers[botID] = mgr

	info, err := d.runPipeline(ctx, mgr, sess)
	if err != nil {
		d.breaker.RecordFailure(err.Error())
		if d.met != nil {
			d.met.SpawnAttempts.WithLabelValues("failure").Inc()
		}
		mgr.MarkFailed(err.Error())
		d.finalize(ctx, mgr, false)
		return
	}
	d.breaker.RecordSuccess()
	if d.met != nil {
		d.met.SpawnAttempts.WithLabelValues("success").Inc()
		d.met.Transitions.WithLabelValues(lifecycle.StateActive.String()).Inc()
		d.met.BotsActive.Set(float64(d.state.BotCount()))
	}
	if d.bus != nil {
		event.Emit(d.bus, event.BotActivated{
			BotID:        botID,
			Archetype:    info.Archetype,
			TimeToActive: mgr.Metrics().TimeToActive,
		})
	}
}

// runPipeline walks CREATED→LOADING_DATA→INITIALIZING→READY→ACTIVE.
func (d *Director) runPipeline(ctx context.Context, mgr *lifecycle.Manager, sess *session.Session) (*world.BotInfo, error) {
	botID := mgr.BotID()

	if !mgr.StartDataLoad() {
		return nil, fmt.Errorf("bot %s: cannot enter LOADING_DATA", botID)
	}
	row, err := d.store.LoadBot(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("load bot data: %w", err)
	}

	if !mgr.StartManagerInit() {
		return nil, fmt.Errorf("bot %s: cannot enter INITIALIZING", botID)
	}
	info, err := d.buildBot(ctx, botID, row, sess)
	if err != nil {
		return nil, fmt.Errorf("init bot: %w", err)
	}

	if !mgr.MarkReady() {
		return nil, fmt.Errorf("bot %s: cannot enter READY", botID)
	}

	d.state.AddBot(info)
	if !mgr.MarkActive() {
		d.state.RemoveBot(botID)
		return nil, fmt.Errorf("bot %s: cannot enter ACTIVE", botID)
	}

	// Drain anything that arrived during initialization into the session.
	mgr.ProcessQueuedEvents(func(ev *lifecycle.Event) {
		d.deliver(sess, ev)
	})
	return info, nil
}

// buildBot materializes the in-world record, from the stored row when one
// exists, otherwise fresh from a weighted archetype pick.
func (d *Director) buildBot(ctx context.Context, botID uuid.UUID, row *persist.BotRow, sess *session.Session) (*world.BotInfo, error) {
	if row != nil {
		return &world.BotInfo{
			ID:        row.ID,
			Name:      row.Name,
			Archetype: row.Archetype,
			MapID:     row.MapID,
			X:         row.X,
			Y:         row.Y,
			Level:     row.Level,
			Session:   sess,
		}, nil
	}
	tmpl := d.archetypes.Pick(rand.Float64())
	if tmpl == nil {
		return nil, fmt.Errorf("no archetypes loaded")
	}
	level := tmpl.MinLevel
	if span := tmpl.MaxLevel - tmpl.MinLevel; span > 0 {
		level += int16(rand.Intn(int(span) + 1))
	}
	info := &world.BotInfo{
		ID:        botID,
		Name:      fmt.Sprintf("%s-%s", tmpl.Key, botID.String()[:8]),
		Archetype: tmpl.Key,
		MapID:     tmpl.MapID,
		X:         tmpl.SpawnX,
		Y:         tmpl.SpawnY,
		Level:     level,
		Session:   sess,
		Dirty:     true,
	}
	if err := d.store.SaveBot(ctx, &persist.BotRow{
		ID: info.ID, Name: info.Name, Archetype: info.Archetype,
		ClassType: tmpl.ClassType, Level: info.Level,
		MapID: info.MapID, X: info.X, Y: info.Y,
	}); err != nil {
		return nil, fmt.Errorf("persist fresh bot: %w", err)
	}
	info.Dirty = false
	return info, nil
}

// Notify routes a world notification at a governed bot. Pre-ACTIVE events
// are deferred by the bot's manager; ACTIVE bots get immediate delivery;
// events at removing or dead bots are swallowed.
func (d *Director) Notify(target uuid.UUID, ev *lifecycle.Event) {
	mgr, ok := d.managers[target]
	if !ok {
		return
	}
	switch mgr.QueueEvent(ev) {
	case lifecycle.EventProcessNow:
		if b := d.state.Get(target); b != nil && b.Session != nil {
			d.deliver(b.Session, ev)
		}
	case lifecycle.EventDropped, lifecycle.EventQueued:
		// nothing to do
	}
}

// deliver pushes a one-byte kind frame into the session's perception queue.
// Non-blocking: a full queue drops the frame — the behavior loop resyncs
// from world state on its next think. Frames must not share a backing
// buffer while queued, so no scratch reuse here.
func (d *Director) deliver(sess *session.Session, ev *lifecycle.Event) {
	frame := []byte{byte(ev.Kind)}
	select {
	case sess.InQueue <- frame:
	default:
	}
}

// runWatchdog force-fails bots stuck in one initialization phase past the
// configured budget. Phase-duration metrics exist exactly for this.
func (d *Director) runWatchdog() {
	if d.cfg.PhaseBudget <= 0 {
		return
	}
	for _, mgr := range d.managers {
		st := mgr.State()
		if st == lifecycle.StateActive || st == lifecycle.StateDestroyed || st == lifecycle.StateFailed {
			continue
		}
		if mgr.TimeInState() > d.cfg.PhaseBudget {
			mgr.MarkFailed(fmt.Sprintf("stuck in %s past phase budget", st))
			d.finalize(context.Background(), mgr, false)
		}
	}
}

// Remove begins orderly teardown of one bot. Returns false when the bot is
// unknown or not removable from its current state.
func (d *Director) Remove(ctx context.Context, botID uuid.UUID) bool {
	mgr, ok := d.managers[botID]
	if !ok {
		return false
	}
	if !mgr.StartRemoval() {
		return false
	}
	d.finalize(ctx, mgr, true)
	return true
}

// removeWave tears down up to n bots when over the population cap.
func (d *Director) removeWave(ctx context.Context, n int) {
	if n > d.cfg.RemoveWaveSize {
		n = d.cfg.RemoveWaveSize
	}
	removed := 0
	for id, mgr := range d.managers {
		if removed >= n {
			break
		}
		if mgr.State() != lifecycle.StateActive {
			continue
		}
		if d.Remove(ctx, id) {
			removed++
		}
	}
}

// finalize completes teardown after REMOVING or FAILED: save what we can,
// release the session, destroy the manager, forget the bot. Per-bot errors
// are logged and never touch other bots.
func (d *Director) finalize(ctx context.Context, mgr *lifecycle.Manager, save bool) {
	botID := mgr.BotID()
	if b := d.state.RemoveBot(botID); b != nil && save {
		err := d.store.SaveBot(ctx, &persist.BotRow{
			ID: b.ID, Name: b.Name, Archetype: b.Archetype,
			Level: b.Level, MapID: b.MapID, X: b.X, Y: b.Y,
		})
		if err != nil {
			d.log.Error("final save failed", zap.String("bot", botID.String()), zap.Error(err))
		}
		if err := d.store.RetireBot(ctx, botID); err != nil {
			d.log.Error("retire failed", zap.String("bot", botID.String()), zap.Error(err))
		}
	}
	d.pool.ReturnByID(botID)
	if !mgr.MarkDestroyed() {
		// REMOVING and FAILED both lead here; anything else is a bug worth seeing
		d.log.Warn("destroy from unexpected state",
			zap.String("bot", botID.String()),
			zap.String("state", mgr.State().String()))
	}
	if d.met != nil {
		d.met.Transitions.WithLabelValues(lifecycle.StateDestroyed.String()).Inc()
		d.met.BotsActive.Set(float64(d.state.BotCount()))
	}
	if d.bus != nil {
		reason := "removed"
		if r := mgr.Metrics().FailureReason; r != "" {
			reason = r
		}
		event.Emit(d.bus, event.BotRetired{BotID: botID, Reason: reason})
	}
	delete(d.managers, botID)
}

// SaveDirty persists every dirty bot, clearing flags on success. Driven on
// the persist cadence from the main loop, and once more at shutdown.
func (d *Director) SaveDirty(ctx context.Context) int {
	saved := 0
	d.state.AllBots(func(b *world.BotInfo) {
		if !b.Dirty {
			return
		}
		saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err := d.store.SaveBot(saveCtx, &persist.BotRow{
			ID: b.ID, Name: b.Name, Archetype: b.Archetype,
			Level: b.Level, MapID: b.MapID, X: b.X, Y: b.Y,
		})
		if err != nil {
			d.log.Error("autosave failed", zap.String("bot", b.ID.String()), zap.Error(err))
			return
		}
		b.Dirty = false
		saved++
	})
	if saved > 0 {
		d.log.Info("autosave complete", zap.Int("bots", saved))
	}
	return saved
}
