// Package commands implements the pqkeysctl subcommands. Each command is
// constructed with NewXxxCommand(app), mirroring the factory-per-command
// layout used throughout this codebase's CLI tooling.
package commands

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/systmms/pqkeys/internal/config"
	"github.com/systmms/pqkeys/internal/logging"
	"github.com/systmms/pqkeys/internal/rotation"
	"github.com/systmms/pqkeys/pkg/core"
)

// App carries the flags parsed by the root command and lazily builds the
// Operations Engine on first use, so commands that don't touch the Core
// (like "version") never have to pay for a protector health check.
type App struct {
	ConfigPath string
	Logger     *logging.Logger

	mu     sync.Mutex
	def    *config.Definition
	engine *core.Core
}

// Core loads pqkeys.yaml (once) and returns an initialized Operations
// Engine, constructing it on first call and reusing it afterward.
func (a *App) Core(ctx context.Context) (*core.Core, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.engine != nil {
		return a.engine, nil
	}

	def, err := config.Load(a.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", a.ConfigPath, err)
	}
	a.def = def

	protectorBackend, err := def.BuildProtector(ctx)
	if err != nil {
		return nil, fmt.Errorf("build protector backend: %w", err)
	}

	store, err := def.BuildStore()
	if err != nil {
		return nil, fmt.Errorf("build key store: %w", err)
	}

	cacheTTL, err := config.Duration(def.Cache.TTL, 10*time.Minute)
	if err != nil {
		return nil, err
	}
	grace, err := config.Duration(def.Rotation.GracePeriod, core.DefaultRotationGrace)
	if err != nil {
		return nil, err
	}
	keyRotationInterval, err := config.Duration(def.Rotation.KeyRotationInterval, 0)
	if err != nil {
		return nil, err
	}

	engine := core.New(core.Config{
		Store:               store,
		Protector:           protectorBackend,
		Logger:              a.Logger,
		CacheTTL:            cacheTTL,
		RotationGrace:       grace,
		KeyRotationInterval: keyRotationInterval,
	})
	if err := engine.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize core: %w", err)
	}

	a.engine = engine
	return engine, nil
}

// Scheduler builds a rotation scheduler bound to this App's Core, using
// the sweep interval configured in pqkeys.yaml.
func (a *App) Scheduler(ctx context.Context) (*rotation.Scheduler, error) {
	engine, err := a.Core(ctx)
	if err != nil {
		return nil, err
	}
	interval, err := config.Duration(a.def.Rotation.SweepInterval, rotation.DefaultInterval)
	if err != nil {
		return nil, err
	}
	return rotation.New(engine, interval, a.Logger), nil
}
