package phi

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/miradorstack/mirador-phiguard/internal/models"
)

const defaultReloadDebounce = 250 * time.Millisecond

// RuleWatcher rebuilds the detector whenever the rule pack file changes. A pack that fails to
// load leaves the previous detector in place.
type RuleWatcher struct {
	path        string
	sensitivity models.Sensitivity
	target      *Deidentifier
	logger      *slog.Logger
	debounce    time.Duration
	watcher     *fsnotify.Watcher
}

// NewRuleWatcher watches the directory holding path so editor rename-and-replace saves are seen.
func NewRuleWatcher(path string, sensitivity models.Sensitivity, target *Deidentifier, logger *slog.Logger) (*RuleWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("phi: rule watcher needs a path")
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve rule pack path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch rule pack directory: %w", err)
	}

	return &RuleWatcher{
		path:        abs,
		sensitivity: sensitivity,
		target:      target,
		logger:      logger,
		debounce:    defaultReloadDebounce,
		watcher:     fsw,
	}, nil
}

// SetDebounce changes how long the watcher waits for writes to settle.
func (w *RuleWatcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Run processes file events until ctx is cancelled. It closes the underlying watcher on return.
func (w *RuleWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("rule pack watcher error", slog.Any("error", err))
		case <-pending:
			pending = nil
			if err := w.Reload(); err != nil {
				w.logger.Error("rule pack reload failed, keeping previous rules",
					slog.String("path", w.path), slog.Any("error", err))
			}
		}
	}
}

// Reload rebuilds the detector from disk and swaps it into the target.
func (w *RuleWatcher) Reload() error {
	detector, err := LoadDetector(w.sensitivity, w.path)
	if err != nil {
		return err
	}
	w.target.Swap(detector)
	w.logger.Info("rule pack reloaded",
		slog.String("path", w.path),
		slog.Int("matchers", len(detector.Matchers())))
	return nil
}
