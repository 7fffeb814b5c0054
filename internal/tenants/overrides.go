package tenants

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/store"
)

const (
	overrideExt   = ".json5"
	debounceDelay = 100 * time.Millisecond
)

// OverrideWatcher applies tenant config files from a directory. Each file is
// named <tenant_id>.json5 and holds a TenantConfig; on create or write it is
// upserted into the store and the tenant's cache entry is invalidated.
type OverrideWatcher struct {
	dir         string
	store       store.TenantStore
	invalidator Invalidator

	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	debounce map[string]*time.Timer
}

func NewOverrideWatcher(dir string, ts store.TenantStore, inv Invalidator) *OverrideWatcher {
	return &OverrideWatcher{
		dir:         dir,
		store:       ts,
		invalidator: inv,
		debounce:    make(map[string]*time.Timer),
	}
}

// LoadAll applies every override file currently in the directory.
func (w *OverrideWatcher) LoadAll(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("read overrides dir: %w", err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), overrideExt) {
			continue
		}
		if err := w.apply(ctx, filepath.Join(w.dir, e.Name())); err != nil {
			slog.Warn("tenant override skipped", "file", e.Name(), "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// Run watches the directory until ctx is cancelled.
func (w *OverrideWatcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.watcher = fw
	defer w.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 && strings.HasSuffix(event.Name, overrideExt) {
				w.handleEvent(ctx, event.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("tenant override watcher error", "error", err)
		}
	}
}

// handleEvent debounces bursts of writes to the same file.
func (w *OverrideWatcher) handleEvent(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.debounce[path]; ok {
		timer.Stop()
	}
	w.debounce[path] = time.AfterFunc(debounceDelay, func() {
		w.mu.Lock()
		delete(w.debounce, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if err := w.apply(ctx, path); err != nil {
			slog.Warn("tenant override rejected", "file", filepath.Base(path), "error", err)
		}
	})
}

func (w *OverrideWatcher) apply(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tenantID := strings.TrimSuffix(filepath.Base(path), overrideExt)
	if tenantID == "" {
		return fmt.Errorf("empty tenant id")
	}

	var cfg store.TenantConfig
	if err := json5.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	cfg.TenantID = tenantID

	if err := w.store.PutTenantConfig(ctx, &cfg); err != nil {
		return err
	}
	if w.invalidator != nil {
		w.invalidator.Invalidate(tenantID)
	}
	slog.Info("tenant override applied", "tenant_id", tenantID)
	return nil
}

func (w *OverrideWatcher) stop() {
	w.mu.Lock()
	for _, timer := range w.debounce {
		timer.Stop()
	}
	w.mu.Unlock()
	if w.watcher != nil {
		w.watcher.Close()
	}
}
