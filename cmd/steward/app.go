package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	igov "github.com/stewardai/steward-oss/internal/governance"
	"github.com/stewardai/steward-oss/pkg/config"
	"github.com/stewardai/steward-oss/pkg/domain"
	"github.com/stewardai/steward-oss/pkg/engine"
	"github.com/stewardai/steward-oss/pkg/gate"
	"github.com/stewardai/steward-oss/pkg/governance"
	"github.com/stewardai/steward-oss/pkg/logging"
	"github.com/stewardai/steward-oss/pkg/registry"
	"github.com/stewardai/steward-oss/pkg/router"
	"github.com/stewardai/steward-oss/pkg/telemetry"
	"github.com/stewardai/steward-oss/pkg/trust"
	"github.com/stewardai/steward-oss/pkg/workers"
)

// app wires every component behind the serve and route commands.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *registry.Registry
	limiter  *igov.ConcurrencyLimiter
	trust    *trust.Store
	gate     *gate.Gate
	planner  *engine.Planner
	promReg  *prometheus.Registry

	local   *governance.LocalService
	watcher *config.ManifestWatcher

	shutdownTelemetry func(context.Context) error
}

// buildApp assembles the full pipeline from configuration: registry and
// workers, governance service and gate, trust store, router, and executor.
func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
	})
	slog.SetDefault(logger)

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}

	a := &app{
		cfg:               cfg,
		logger:            logger,
		limiter:           igov.NewConcurrencyLimiter(),
		promReg:           prometheus.NewRegistry(),
		shutdownTelemetry: shutdownTelemetry,
	}

	a.registry = registry.New(logger)
	if !cfg.Workers.DisableBuiltins {
		if err := workers.Install(a.registry, logger); err != nil {
			return nil, fmt.Errorf("install builtin workers: %w", err)
		}
	}
	if cfg.Workers.ManifestPath != "" {
		if err := a.loadManifest(); err != nil {
			return nil, err
		}
	}
	for _, desc := range a.registry.List() {
		a.limiter.Configure(desc.ID, desc.MaxConcurrent)
	}

	service, err := a.buildGovernanceService(ctx)
	if err != nil {
		return nil, err
	}
	a.gate = gate.New(service, gate.Options{
		Config:  cfg.Governance.Gate,
		Metrics: gate.NewMetrics(a.promReg),
		Logger:  logger,
	})

	a.trust = trust.NewStore(trust.DefaultDeltas(), logger)
	a.promReg.MustRegister(trust.NewCollector(a.trust))

	rt := router.New(a.registry, cfg.Routing.Weights, logger)
	executor := engine.NewExecutor(engine.ExecutorConfig{
		Registry:        a.registry,
		Gate:            a.gate,
		Trust:           a.trust,
		Limiter:         a.limiter,
		Logger:          logger,
		DefaultDeadline: cfg.Engine.DefaultTaskDeadline,
	})
	a.planner = engine.NewPlanner(rt, executor, logger)

	logger.Info("steward assembled",
		"workers", a.registry.Len(),
		"governance_mode", cfg.Governance.Mode,
	)
	return a, nil
}

func (a *app) buildGovernanceService(ctx context.Context) (domain.GovernanceService, error) {
	switch a.cfg.Governance.Mode {
	case "http":
		return governance.NewHTTPService(governance.HTTPOptions{
			BaseURL: a.cfg.Governance.Endpoint,
		})
	default:
		modules := governance.DefaultPolicyModules()
		if dir := a.cfg.Governance.PolicyDir; dir != "" {
			loaded, err := loadPolicyDir(dir)
			if err != nil {
				return nil, err
			}
			for name, src := range loaded {
				modules[name] = src
			}
			a.logger.Info("policy directory loaded", "dir", dir, "modules", len(loaded))
		}
		local, err := governance.NewLocalService(ctx, governance.LocalOptions{
			Modules: modules,
			Logger:  a.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build local governance: %w", err)
		}
		a.local = local
		return local, nil
	}
}

func (a *app) loadManifest() error {
	if a.cfg.Workers.WatchManifest {
		watcher, err := config.NewManifestWatcher(a.cfg.Workers.ManifestPath, a.logger)
		if err != nil {
			return err
		}
		a.watcher = watcher
		return a.applyDescriptors(watcher.Workers())
	}

	descriptors, err := config.LoadManifest(a.cfg.Workers.ManifestPath)
	if err != nil {
		return err
	}
	return a.applyDescriptors(descriptors)
}

// applyDescriptors folds a manifest descriptor set into the registry. Known
// ids are updated in place so the bound implementations survive; new ids are
// registered as routable descriptors awaiting a binding.
func (a *app) applyDescriptors(descriptors []domain.WorkerDescriptor) error {
	for _, desc := range descriptors {
		if _, err := a.registry.Get(desc.ID); err == nil {
			if err := a.registry.Update(desc); err != nil {
				return fmt.Errorf("update worker %q: %w", desc.ID, err)
			}
		} else if err := a.registry.Register(desc); err != nil {
			return fmt.Errorf("register worker %q: %w", desc.ID, err)
		}
		a.limiter.Configure(desc.ID, desc.MaxConcurrent)
	}
	return nil
}

// watchManifest applies reloaded descriptor sets until ctx is cancelled.
// A reload invalidates cached permission decisions since worker metadata
// feeds the policy input.
func (a *app) watchManifest(ctx context.Context) {
	if a.watcher == nil {
		return
	}
	updates := a.watcher.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case descriptors, ok := <-updates:
			if !ok {
				return
			}
			if err := a.applyDescriptors(descriptors); err != nil {
				a.logger.Error("manifest apply failed", "error", err)
				continue
			}
			if a.local != nil {
				a.local.FlushCache()
			}
		}
	}
}

// decayLoop periodically applies inactivity decay to trust scores.
func (a *app) decayLoop(ctx context.Context) {
	interval := a.cfg.Trust.DecayInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.trust.Decay(now)
		}
	}
}

// close releases background resources in reverse assembly order.
func (a *app) close(ctx context.Context) {
	a.gate.Wait()
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			a.logger.Warn("manifest watcher close", "error", err)
		}
	}
	if a.shutdownTelemetry != nil {
		if err := a.shutdownTelemetry(ctx); err != nil {
			a.logger.Warn("telemetry shutdown", "error", err)
		}
	}
}

// loadPolicyDir reads every .rego module in dir, keyed by file name.
func loadPolicyDir(dir string) (map[string]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, fmt.Errorf("scan policy dir: %w", err)
	}
	modules := make(map[string]string, len(paths))
	for _, path := range paths {
		// #nosec G304 -- Policy directory is configured at startup
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read policy %s: %w", path, err)
		}
		modules[filepath.Base(path)] = string(data)
	}
	return modules, nil
}
