package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/WinkyTy/layout-converter/internal/layout"
	"github.com/WinkyTy/layout-converter/internal/logging"
	"github.com/WinkyTy/layout-converter/internal/registry"
)

// DefaultDebounce is how long a file must be quiet before it is reloaded.
const DefaultDebounce = 100 * time.Millisecond

// ReloadEvent describes one change applied to the registry.
type ReloadEvent struct {
	Path     string
	LayoutID string
	Removed  bool
	// Restored is set when a removal put the fallback layout back.
	Restored bool
	Err      error
}

// Fallback supplies the layout to restore when the file that overrode id
// goes away.
type Fallback func(id string) (*layout.Definition, bool)

// BuiltinFallback restores built-in layouts.
func BuiltinFallback(id string) (*layout.Definition, bool) {
	d, ok := layout.Builtin(id)
	if !ok {
		return nil, false
	}
	def, err := layout.New(d)
	if err != nil {
		return nil, false
	}
	return def, true
}

// Watcher keeps a registry in sync with layout files in a set of
// directories. Files that fail to load are reported and leave the registry
// untouched.
type Watcher struct {
	reg      *registry.Registry
	dirs     []string
	debounce time.Duration
	logger   *logging.Logger

	fs       *fsnotify.Watcher
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	errChan  chan error
	onReload []func(ReloadEvent)
	fallback Fallback

	mu     sync.Mutex
	timers map[string]*time.Timer
	owners map[string]string // file path -> layout id
}

// NewWatcher creates a Watcher for dirs. A zero debounce uses
// DefaultDebounce; a nil logger uses logging.Default.
func NewWatcher(reg *registry.Registry, dirs []string, debounce time.Duration, logger *logging.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		reg:      reg,
		dirs:     dirs,
		debounce: debounce,
		logger:   logger.WithComponent("layout-watcher"),
		ctx:      ctx,
		cancel:   cancel,
		errChan:  make(chan error, 16),
		timers:   make(map[string]*time.Timer),
		owners:   make(map[string]string),
	}
}

// SetFallback makes eviction restore fallback layouts instead of removing
// the id. Call before Start.
func (w *Watcher) SetFallback(fb Fallback) {
	w.fallback = fb
}

// OnReload registers a callback run after every applied change. Register
// callbacks before Start.
func (w *Watcher) OnReload(cb func(ReloadEvent)) {
	w.onReload = append(w.onReload, cb)
}

// Errors returns load and watch errors. Errors are dropped when nobody reads
// the channel.
func (w *Watcher) Errors() <-chan error {
	return w.errChan
}

// Start installs every layout currently in the directories and begins
// watching them. Initial load failures are reported on Errors.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	for _, dir := range w.dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			fsw.Close()
			return fmt.Errorf("resolve %s: %w", dir, err)
		}
		if err := fsw.Add(abs); err != nil {
			fsw.Close()
			return fmt.Errorf("watch directory %s: %w", abs, err)
		}
		paths, err := layoutFiles(abs)
		if err != nil {
			fsw.Close()
			return err
		}
		for _, p := range paths {
			w.reload(p)
		}
	}

	w.fs = fsw
	w.wg.Add(1)
	go w.watchLoop()
	return nil
}

// Close stops watching. Layouts already installed stay in the registry.
func (w *Watcher) Close() error {
	w.cancel()
	var err error
	if w.fs != nil {
		err = w.fs.Close()
	}
	w.wg.Wait()

	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if _, supported := FormatFor(event.Name); !supported {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.report(fmt.Errorf("watch: %w", err))
		}
	}
}

// schedule debounces per path; the final state of the file decides whether
// it is reloaded or evicted.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		if w.ctx.Err() != nil {
			return
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			w.evict(path)
			return
		}
		w.reload(path)
	})
}

func (w *Watcher) reload(path string) {
	def, err := LoadFile(path)
	if err == nil {
		err = w.reg.Load(def.ID(), def)
	}
	if err != nil {
		w.logger.Warn("layout reload failed", "path", path, "error", err)
		w.report(err)
		w.notify(ReloadEvent{Path: path, Err: err})
		return
	}

	w.mu.Lock()
	prev, had := w.owners[path]
	w.owners[path] = def.ID()
	w.mu.Unlock()

	// The file was edited to declare a different id.
	if had && prev != def.ID() && !w.ownedElsewhere(prev, path) {
		w.release(prev)
	}

	w.logger.Info("layout loaded", "path", path, "layout", def.ID())
	w.notify(ReloadEvent{Path: path, LayoutID: def.ID()})
}

func (w *Watcher) evict(path string) {
	w.mu.Lock()
	id, ok := w.owners[path]
	delete(w.owners, path)
	w.mu.Unlock()
	if !ok {
		return
	}

	var restored bool
	if !w.ownedElsewhere(id, path) {
		restored = w.release(id)
	}
	w.logger.Info("layout removed", "path", path, "layout", id, "restored", restored)
	w.notify(ReloadEvent{Path: path, LayoutID: id, Removed: true, Restored: restored})
}

// release drops id from the registry, or reinstalls its fallback layout.
func (w *Watcher) release(id string) bool {
	if w.fallback != nil {
		if def, ok := w.fallback(id); ok {
			if err := w.reg.Load(id, def); err == nil {
				return true
			}
		}
	}
	w.reg.Remove(id)
	return false
}

func (w *Watcher) ownedElsewhere(id, path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, owner := range w.owners {
		if p != path && owner == id {
			return true
		}
	}
	return false
}

func (w *Watcher) notify(ev ReloadEvent) {
	for _, cb := range w.onReload {
		cb(ev)
	}
}

func (w *Watcher) report(err error) {
	select {
	case w.errChan <- err:
	default:
	}
}
