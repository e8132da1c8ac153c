package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/l1jgo/botherd/internal/admission"
	"github.com/l1jgo/botherd/internal/config"
	"github.com/l1jgo/botherd/internal/core/event"
	coresys "github.com/l1jgo/botherd/internal/core/system"
	"github.com/l1jgo/botherd/internal/data"
	"github.com/l1jgo/botherd/internal/metrics"
	"github.com/l1jgo/botherd/internal/monitor"
	"github.com/l1jgo/botherd/internal/persist"
	"github.com/l1jgo/botherd/internal/scripting"
	"github.com/l1jgo/botherd/internal/session"
	"github.com/l1jgo/botherd/internal/system"
	"github.com/l1jgo/botherd/internal/world"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string, serverID int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m            botherd  v0.1.0                \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m       自律機器人群控制伺服器              \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1m伺服器:\033[0m %s \033[90m(編號: %d)\033[0m\n\n", serverName, serverID)
}

func printSection(title string) {
	// Use rune count for CJK width calculation (each CJK char = 2 columns)
	displayWidth := 0
	for _, r := range title {
		if r > 0x7F {
			displayWidth += 2
		} else {
			displayWidth++
		}
	}
	lineLen := 46 - displayWidth - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	displayWidth := 0
	for _, r := range label {
		if r > 0x7F {
			displayWidth += 2
		} else {
			displayWidth++
		}
	}
	dotsLen := 42 - displayWidth - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("BOTHERD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.ID)

	// 3. Connect to PostgreSQL and run migrations
	printSection("資料庫")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := persist.NewDB(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	printOK("PostgreSQL 連線成功")

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	printOK("資料庫遷移完成")
	fmt.Println()

	// 4. Load data tables
	printSection("資料載入")

	archetypes, err := data.LoadArchetypeTable("data/yaml/archetype_list.yaml")
	if err != nil {
		return fmt.Errorf("load archetype table: %w", err)
	}
	printStat("機器人原型", archetypes.Count())

	botRepo := persist.NewBotRepo(db)
	persisted, err := botRepo.CountActive(ctx)
	if err != nil {
		return fmt.Errorf("count persisted bots: %w", err)
	}
	printStat("既有機器人", persisted)

	// 5. Initialize Lua scripting engine
	var policy admission.WavePolicy
	var luaEngine *scripting.Engine
	if cfg.Scripting.Enabled {
		luaEngine, err = scripting.NewEngine(cfg.Scripting.Dir, log)
		if err != nil {
			return fmt.Errorf("lua engine: %w", err)
		}
		defer luaEngine.Close()
		policy = luaPolicy{eng: luaEngine}
		printOK("Lua 腳本載入完成")
	}
	fmt.Println()

	// 6. Metrics registry and scrape endpoint
	reg := prometheus.NewRegistry()
	met := metrics.New(reg)
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.Server.MetricsAddr, mux); err != nil {
				log.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	// 7. Build the control-plane components
	clk := clock.New()
	bus := event.NewBus()
	worldState := world.NewState(log)

	pool := session.NewPool(cfg.Pool, clk, met, log)
	pool.Initialize(cfg.Pool.InitialSize)

	mon := monitor.New(cfg.Monitor, monitor.NewPlatformSampler(), worldState, clk, met, log)
	mon.ForceUpdate() // prime gauges before the first tick

	breaker := admission.NewCircuitBreaker(cfg.Breaker, clk, met, log)

	director := admission.NewDirector(
		cfg.Admission, mon, breaker, pool, worldState,
		botRepo, archetypes, policy, bus, clk, met, log,
	)

	// 8. Bus subscribers: lifecycle audit trail
	event.Subscribe(bus, func(ev event.BotActivated) {
		log.Debug("bot activated",
			zap.String("bot", ev.BotID.String()),
			zap.String("archetype", ev.Archetype),
			zap.Duration("time_to_active", ev.TimeToActive))
	})
	event.Subscribe(bus, func(ev event.BotRetired) {
		log.Debug("bot retired",
			zap.String("bot", ev.BotID.String()),
			zap.String("reason", ev.Reason))
	})
	event.Subscribe(bus, func(ev event.ThrottleChanged) {
		log.Info("spawn throttle changed",
			zap.Float64("multiplier", ev.Multiplier),
			zap.Bool("spawn_safe", ev.SpawnSafe))
	})

	// 9. Register systems in phase order
	loopCtx, loopCancel := context.WithCancel(context.Background())
	defer loopCancel()

	runner := coresys.NewRunner()
	runner.Register(system.NewEventDispatchSystem(bus))
	runner.Register(system.NewSampleSystem(mon))
	runner.Register(system.NewBreakerSystem(breaker))
	runner.Register(system.NewAdmitSystem(loopCtx, director))
	runner.Register(system.NewPoolMaintenanceSystem(pool))
	runner.Register(system.NewPersistSystem(loopCtx, director, 5*time.Minute))

	// 10. Start control loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Server.TickRate)
	defer ticker.Stop()

	printSection("伺服器就緒")
	if cfg.Server.MetricsAddr != "" {
		printReady(fmt.Sprintf("指標端點 %s/metrics", cfg.Server.MetricsAddr))
	}
	printReady(fmt.Sprintf("控制迴圈啟動 (tick: %s, 上限: %d)", cfg.Server.TickRate, cfg.Admission.MaxBots))
	fmt.Println()

	for {
		select {
		case <-ticker.C:
			runner.Tick(cfg.Server.TickRate)
		case sig := <-shutdownCh:
			log.Info("收到關閉信號", zap.String("signal", sig.String()))
			loopCancel()
			// Save all dirty bots before stopping
			saveCtx, saveCancel := context.WithTimeout(context.Background(), 30*time.Second)
			director.SaveDirty(saveCtx)
			saveCancel()
			log.Info("伺服器已停止",
				zap.Int("bots", worldState.BotCount()),
				zap.Int("sessions", pool.Stats().Pooled))
			return nil
		}
	}
}

// luaPolicy adapts the scripting engine to the director's policy surface.
type luaPolicy struct {
	eng *scripting.Engine
}

func (p luaPolicy) SpawnWave(in admission.WaveInputs) int {
	return p.eng.SpawnWave(scripting.WaveContext{
		Population:   in.Population,
		MaxBots:      in.MaxBots,
		BaseWave:     in.BaseWave,
		Pressure:     in.Pressure,
		Multiplier:   in.Multiplier,
		BreakerState: in.BreakerState,
		FailureRate:  in.FailureRate,
	})
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
