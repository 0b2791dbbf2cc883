package loader

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WinkyTy/layout-converter/internal/logging"
	"github.com/WinkyTy/layout-converter/internal/registry"
)

func quietLogger(t *testing.T) *logging.Logger {
	t.Helper()
	cfg := logging.DefaultConfig()
	cfg.Writer = &bytes.Buffer{}
	l, err := logging.New(cfg)
	require.NoError(t, err)
	return l
}

func TestWatcherLoadsAndEvicts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "mini.json", jsonLayout)

	reg := registry.New()
	w := NewWatcher(reg, []string{dir}, 20*time.Millisecond, quietLogger(t))

	var (
		mu     sync.Mutex
		events []ReloadEvent
	)
	w.OnReload(func(ev ReloadEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	require.NoError(t, w.Start())
	defer w.Close()

	_, ok := reg.Get("mini")
	require.True(t, ok, "existing file installed on start")

	writeFile(t, dir, "yaml.yaml", yamlLayout)
	require.Eventually(t, func() bool {
		_, ok := reg.Get("mini-yaml")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "mini.json")))
	require.Eventually(t, func() bool {
		_, ok := reg.Get("mini")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	var removed bool
	for _, ev := range events {
		if ev.Removed && ev.LayoutID == "mini" {
			removed = true
		}
	}
	assert.True(t, removed)
}

func TestWatcherReportsBadFiles(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New()
	w := NewWatcher(reg, []string{dir}, 20*time.Millisecond, quietLogger(t))
	require.NoError(t, w.Start())
	defer w.Close()

	writeFile(t, dir, "broken.json", `{"id": "broken", "name": "Broken"}`)

	select {
	case err := <-w.Errors():
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("no error reported for invalid layout")
	}
	assert.Zero(t, reg.Len())
}

func TestWatcherMissingDir(t *testing.T) {
	w := NewWatcher(registry.New(), []string{filepath.Join(t.TempDir(), "nope")}, 0, quietLogger(t))
	assert.Error(t, w.Start())
}

func TestWatcherRestoresBuiltinOnEvict(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "qwerty.json", `{"id": "qwerty", "name": "Custom", "family_id": 1, "layout_id": 1,
  "key_mappings": {"a": "z", "z": "a"}}`)

	reg := registry.New()
	require.NoError(t, registry.LoadBuiltins(reg))
	w := NewWatcher(reg, []string{dir}, 20*time.Millisecond, quietLogger(t))
	w.SetFallback(BuiltinFallback)

	var (
		mu     sync.Mutex
		events []ReloadEvent
	)
	w.OnReload(func(ev ReloadEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	require.NoError(t, w.Start())
	defer w.Close()

	def, ok := reg.Get("qwerty")
	require.True(t, ok)
	assert.Equal(t, "Custom", def.Name())

	require.NoError(t, os.Remove(filepath.Join(dir, "qwerty.json")))
	require.Eventually(t, func() bool {
		def, ok := reg.Get("qwerty")
		return ok && def.Name() == "QWERTY"
	}, 2*time.Second, 10*time.Millisecond)

	def, _ = reg.Get("qwerty")
	ch, _ := def.CharAt(1)
	assert.Equal(t, "a", ch)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		last := events[len(events)-1]
		return last.Removed && last.Restored && last.LayoutID == "qwerty"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherEvictsWithoutFallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "qwerty.json", `{"id": "qwerty", "name": "Custom", "family_id": 1, "layout_id": 1,
  "key_mappings": {"a": "z"}}`)

	reg := registry.New()
	require.NoError(t, registry.LoadBuiltins(reg))
	w := NewWatcher(reg, []string{dir}, 20*time.Millisecond, quietLogger(t))
	require.NoError(t, w.Start())
	defer w.Close()

	require.NoError(t, os.Remove(filepath.Join(dir, "qwerty.json")))
	require.Eventually(t, func() bool {
		_, ok := reg.Get("qwerty")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}
