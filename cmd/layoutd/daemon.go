package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/WinkyTy/layout-converter/internal/api"
	"github.com/WinkyTy/layout-converter/internal/config"
	"github.com/WinkyTy/layout-converter/internal/detect"
	"github.com/WinkyTy/layout-converter/internal/health"
	"github.com/WinkyTy/layout-converter/internal/loader"
	"github.com/WinkyTy/layout-converter/internal/logging"
	"github.com/WinkyTy/layout-converter/internal/metrics"
	"github.com/WinkyTy/layout-converter/internal/registry"
	"github.com/WinkyTy/layout-converter/internal/store"
)

// daemon owns the long-lived components of layoutd.
type daemon struct {
	cfg     *config.Config
	logger  *logging.Logger
	reg     *registry.Registry
	store   *store.Store
	metrics *metrics.Metrics
	health  *health.Checker
	api     *api.Server
	watcher *loader.Watcher
	done    chan struct{}
}

// newDaemon loads layouts in order of precedence (built-ins, stored layouts,
// then files) and wires the HTTP API. File watching starts here when enabled.
func newDaemon(cfg *config.Config, logger *logging.Logger) (*daemon, error) {
	d := &daemon{
		cfg:    cfg,
		logger: logger,
		reg:    registry.New(),
		health: health.NewChecker(),
		done:   make(chan struct{}),
	}
	if cfg.Server.Metrics {
		d.metrics = metrics.New(nil)
	}

	if cfg.Layouts.Builtins {
		if err := registry.LoadBuiltins(d.reg); err != nil {
			return nil, fmt.Errorf("load builtins: %w", err)
		}
		d.metrics.RecordLayoutLoad("builtin", metrics.OutcomeOK)
		logger.Info("built-in layouts loaded", "count", d.reg.Len())
	}

	var apiStore api.LayoutStore
	if cfg.Storage.Enabled {
		st, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return nil, err
		}
		d.store = st
		apiStore = st

		ids, err := st.LoadAll(context.Background(), d.reg)
		if err != nil {
			d.metrics.RecordLayoutLoad("store", metrics.OutcomeInvalid)
			logger.Warn("some stored layouts were skipped", "error", err)
		}
		for range ids {
			d.metrics.RecordLayoutLoad("store", metrics.OutcomeOK)
		}
		logger.Info("stored layouts loaded", "count", len(ids), "path", cfg.DatabasePath())
		d.health.RegisterFunc("store", false, health.PingCheck("store", st.Ping))
	}

	if err := d.loadFiles(); err != nil {
		d.Close()
		return nil, err
	}
	d.metrics.SetLayouts(d.reg.Len())

	d.api = api.New(api.Config{
		Registry:     d.reg,
		Store:        apiStore,
		Metrics:      d.metrics,
		Health:       d.health,
		Logger:       logger,
		Detection:    detectConfig(cfg.Detection),
		Lenient:      cfg.Conversion.Lenient,
		Concurrency:  cfg.Conversion.Concurrency,
		MaxBatch:     cfg.Conversion.MaxBatch,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})
	return d, nil
}

func (d *daemon) loadFiles() error {
	dirs := d.cfg.LayoutDirs()

	if !d.cfg.Layouts.Watch {
		for _, dir := range dirs {
			ids, err := loader.InstallDir(d.reg, dir)
			if err != nil {
				d.metrics.RecordLayoutLoad("file", metrics.OutcomeInvalid)
				d.logger.Warn("some layout files were skipped", "dir", dir, "error", err)
			}
			for range ids {
				d.metrics.RecordLayoutLoad("file", metrics.OutcomeOK)
			}
		}
		return nil
	}

	debounce := time.Duration(d.cfg.Layouts.DebounceMs) * time.Millisecond
	w := loader.NewWatcher(d.reg, dirs, debounce, d.logger)
	if d.cfg.Layouts.Builtins {
		w.SetFallback(loader.BuiltinFallback)
	}
	w.OnReload(func(ev loader.ReloadEvent) {
		switch {
		case ev.Err != nil:
			d.metrics.RecordLayoutLoad("file", metrics.OutcomeInvalid)
		case ev.Removed:
			d.metrics.RecordLayoutLoad("file", "removed")
		default:
			d.metrics.RecordLayoutLoad("file", metrics.OutcomeOK)
		}
		d.metrics.SetLayouts(d.reg.Len())
	})
	if err := w.Start(); err != nil {
		return fmt.Errorf("watch layouts: %w", err)
	}
	d.watcher = w
	go func() {
		for {
			select {
			case err := <-w.Errors():
				d.logger.Warn("layout file rejected", "error", err)
			case <-d.done:
				return
			}
		}
	}()
	return nil
}

// watchConfig applies detection and leniency changes from the config file
// without a restart. Other sections need a restart.
func (d *daemon) watchConfig(l *config.Loader) {
	if _, err := os.Stat(l.Path()); err != nil {
		d.logger.Debug("config file absent, not watching", "path", l.Path())
		return
	}

	l.OnChange(func(old, cur *config.Config) {
		d.api.SetDetection(detectConfig(cur.Detection))
		d.api.SetLenient(cur.Conversion.Lenient)
		d.logger.Info("configuration reloaded",
			"threshold", cur.Detection.Threshold,
			"max_results", cur.Detection.MaxResults,
			"lenient", cur.Conversion.Lenient,
		)
		if old != nil && (old.Server != cur.Server || old.Storage != cur.Storage) {
			d.logger.Warn("server and storage changes take effect after a restart")
		}
	})
	if err := l.Watch(); err != nil {
		d.logger.Warn("config watch unavailable", "error", err)
		return
	}
	go func() {
		for err := range l.Errors() {
			d.logger.Warn("config reload rejected", "error", err)
		}
	}()
}

// Serve runs the HTTP server on ln until ctx is done, then shuts it down
// gracefully.
func (d *daemon) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           d.api,
		ReadTimeout:       time.Duration(d.cfg.Server.ReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(d.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(d.cfg.Server.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	d.health.SetReady(true)
	d.logger.Info("layoutd listening", "addr", ln.Addr().String(), "layouts", d.reg.Len())

	select {
	case err := <-errCh:
		d.health.SetReady(false)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	d.health.SetReady(false)
	d.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(d.cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases the watcher and the store.
func (d *daemon) Close() error {
	var errs []error
	select {
	case <-d.done:
	default:
		close(d.done)
	}
	if d.watcher != nil {
		errs = append(errs, d.watcher.Close())
		d.watcher = nil
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
		d.store = nil
	}
	return errors.Join(errs...)
}

func detectConfig(c config.DetectionConfig) detect.Config {
	return detect.Config{
		CoverageWeight:   c.CoverageWeight,
		VocabularyWeight: c.VocabularyWeight,
		ScriptBonus:      c.ScriptBonus,
		PriorWeight:      c.PriorWeight,
		HintBonus:        c.HintBonus,
		Threshold:        c.Threshold,
		MaxResults:       c.MaxResults,
	}
}
