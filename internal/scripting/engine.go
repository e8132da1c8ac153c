package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM for admission policy decisions.
// Single-goroutine access only (control loop).
type Engine struct {
	vm     *lua.LState
	log    *zap.Logger
	warned bool // spawn_wave missing — warn once, then fall back silently
}

// NewEngine creates a Lua engine and loads all policy scripts from the given
// directory.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}

	for _, sub := range []string{"core", "policy"} {
		p := filepath.Join(scriptsDir, sub)
		if err := e.loadDir(p); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}

	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// WaveContext holds pre-packed control-plane inputs for the spawn policy.
type WaveContext struct {
	Population   int     // bots currently governed
	MaxBots      int     // configured population cap
	BaseWave     int     // configured base wave size
	Pressure     int     // 0=NORMAL 1=ELEVATED 2=HIGH 3=CRITICAL
	Multiplier   float64 // spawn rate multiplier from the monitor
	BreakerState string  // CLOSED / OPEN / HALF_OPEN
	FailureRate  float64 // breaker window failure %
}

// SpawnWave calls the Lua spawn_wave function to size this tick's admission
// wave. When the script does not define spawn_wave, the Go fallback applies
// the multiplier to the base wave.
func (e *Engine) SpawnWave(ctx WaveContext) int {
	fallback := int(float64(ctx.BaseWave) * ctx.Multiplier)

	fn := e.vm.GetGlobal("spawn_wave")
	if fn == lua.LNil {
		if !e.warned {
			e.log.Warn("lua function spawn_wave not found, using base wave policy")
			e.warned = true
		}
		return fallback
	}

	t := e.vm.NewTable()
	t.RawSetString("population", lua.LNumber(ctx.Population))
	t.RawSetString("max_bots", lua.LNumber(ctx.MaxBots))
	t.RawSetString("base_wave", lua.LNumber(ctx.BaseWave))
	t.RawSetString("pressure", lua.LNumber(ctx.Pressure))
	t.RawSetString("multiplier", lua.LNumber(ctx.Multiplier))
	t.RawSetString("breaker", lua.LString(ctx.BreakerState))
	t.RawSetString("failure_rate", lua.LNumber(ctx.FailureRate))

	if err := e.vm.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, t); err != nil {
		e.log.Error("spawn_wave failed", zap.Error(err))
		return fallback
	}
	ret := e.vm.Get(-1)
	e.vm.Pop(1)

	n, ok := ret.(lua.LNumber)
	if !ok {
		e.log.Error("spawn_wave returned non-number", zap.String("got", ret.Type().String()))
		return fallback
	}
	wave := int(n)
	if wave < 0 {
		wave = 0
	}
	return wave
}

// DoString loads inline Lua source. Tests use this instead of script files.
func (e *Engine) DoString(src string) error {
	return e.vm.DoString(src)
}

func (e *Engine) Close() {
	e.vm.Close()
}
