// Package watch nudges the poll scheduler when the local status file changes,
// so edits show up before the next interval tick.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 100 * time.Millisecond

// Config configures a Watcher.
type Config struct {
	// Path is the status file to watch. Its directory is watched so that
	// editors that replace the file by rename are still observed.
	Path     string
	Debounce time.Duration
	Logger   *zap.Logger
}

// Watcher calls onChange after the watched file is written, created, renamed
// or removed. Bursts of events within Debounce collapse into one call.
type Watcher struct {
	fs       *fsnotify.Watcher
	name     string
	debounce time.Duration
	onChange func()
	logger   *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// New starts watching cfg.Path's directory.
func New(cfg Config, onChange func()) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("watch path is required")
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve watch path: %w", err)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		fs:       fsw,
		name:     filepath.Base(abs),
		debounce: cfg.Debounce,
		onChange: onChange,
		logger:   logger,
	}, nil
}

// Run processes events until ctx ends, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close() //nolint:errcheck // close error is reported by Close callers

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("status file watch error", zap.Error(err))
		case <-fire:
			fire = nil
			w.logger.Debug("status file changed", zap.String("file", w.name))
			if w.onChange != nil {
				w.onChange()
			}
		}
	}
}

// Close stops the underlying watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.fs.Close()
	})
	return w.closeErr
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Base(ev.Name) != w.name {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) ||
		ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove)
}
