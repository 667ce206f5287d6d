package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tetherhq/tether/gateway/pkg/safego"
)

//go:embed models.yaml
var embeddedModels []byte

// DefaultContextWindow is assumed for models missing from the table.
const DefaultContextWindow = 128000

// Catalog maps model ids to context window sizes. The embedded table covers
// the known models; an override file merges on top of it and can be watched
// so edits take effect without a restart.
type Catalog struct {
	logger *zap.Logger

	mu      sync.RWMutex
	base    map[string]int
	windows map[string]int

	watcher *fsnotify.Watcher
}

// New parses the embedded model table.
func New(logger *zap.Logger) (*Catalog, error) {
	base := make(map[string]int)
	if err := yaml.Unmarshal(embeddedModels, &base); err != nil {
		return nil, fmt.Errorf("parse embedded model table: %w", err)
	}

	windows := make(map[string]int, len(base))
	for model, window := range base {
		windows[model] = window
	}

	return &Catalog{
		logger:  logger.With(zap.String("component", "catalog")),
		base:    base,
		windows: windows,
	}, nil
}

// LoadOverrides applies the override file on top of the embedded table. A
// missing file leaves the table unchanged. Each call rebuilds from the
// embedded entries, so deletions in the file take effect too.
func (c *Catalog) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read model overrides: %w", err)
	}

	overrides := make(map[string]int)
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("parse model overrides: %w", err)
	}

	merged := make(map[string]int, len(c.base)+len(overrides))
	c.mu.Lock()
	for model, window := range c.base {
		merged[model] = window
	}
	for model, window := range overrides {
		merged[model] = window
	}
	c.windows = merged
	c.mu.Unlock()

	c.logger.Info("Model overrides loaded",
		zap.String("path", path),
		zap.Int("entries", len(overrides)),
	)
	return nil
}

// Watch reloads the override file whenever it changes. The file's directory
// is watched rather than the file itself, so the file may appear (or be
// replaced atomically) after startup.
func (c *Catalog) Watch(ctx context.Context, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create catalog dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	c.watcher = watcher

	name := filepath.Base(path)
	safego.Go(c.logger, "catalog-watch", func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != name {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := c.LoadOverrides(path); err != nil {
					c.logger.Warn("Model override reload failed", zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Error("Catalog watcher error", zap.Error(err))
			}
		}
	})

	c.logger.Info("Watching model overrides", zap.String("path", path))
	return nil
}

// Close stops the watcher if one is running.
func (c *Catalog) Close() error {
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

// ContextWindow resolves a model id to its context window size.
func (c *Catalog) ContextWindow(model string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if window, ok := c.windows[model]; ok {
		return window
	}
	return DefaultContextWindow
}
