package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stewardai/steward-oss/pkg/domain"
)

// debounceWindow coalesces editor write bursts into a single reload.
const debounceWindow = 100 * time.Millisecond

// ManifestWatcher reloads a worker manifest when the file changes and fans
// the parsed descriptors out to subscribers.
type ManifestWatcher struct {
	path    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu          sync.RWMutex
	current     []domain.WorkerDescriptor
	subscribers []chan []domain.WorkerDescriptor

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManifestWatcher loads the manifest at path and starts watching its
// directory for changes. Watching the directory rather than the file keeps
// the watch alive across atomic rename-over saves.
func NewManifestWatcher(path string, logger *slog.Logger) (*ManifestWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}

	descriptors, err := LoadManifest(abs)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create manifest watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch manifest directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &ManifestWatcher{
		path:    abs,
		logger:  logger,
		watcher: fsw,
		current: descriptors,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go w.loop(ctx)
	return w, nil
}

// Workers returns the most recently loaded descriptor set.
func (w *ManifestWatcher) Workers() []domain.WorkerDescriptor {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]domain.WorkerDescriptor, len(w.current))
	copy(out, w.current)
	return out
}

// Subscribe returns a channel that receives the current descriptor set
// immediately and every successfully reloaded set afterwards. Slow consumers
// miss intermediate updates rather than blocking the watch loop.
func (w *ManifestWatcher) Subscribe() <-chan []domain.WorkerDescriptor {
	ch := make(chan []domain.WorkerDescriptor, 1)
	w.mu.Lock()
	w.subscribers = append(w.subscribers, ch)
	ch <- w.current
	w.mu.Unlock()
	return ch
}

// Close stops the watch loop and releases the filesystem watcher.
func (w *ManifestWatcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	w.mu.Lock()
	for _, ch := range w.subscribers {
		close(ch)
	}
	w.subscribers = nil
	w.mu.Unlock()
	return err
}

func (w *ManifestWatcher) loop(ctx context.Context) {
	defer close(w.done)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Chmod) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(debounceWindow)
			}
		case <-timerCh:
			timer = nil
			timerCh = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("manifest watch error", "path", w.path, "error", err)
		}
	}
}

// reload re-parses the manifest. A broken manifest keeps the previous
// descriptor set in place.
func (w *ManifestWatcher) reload() {
	descriptors, err := LoadManifest(w.path)
	if err != nil {
		w.logger.Error("manifest reload failed, keeping previous workers",
			"path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	w.current = descriptors
	subs := make([]chan []domain.WorkerDescriptor, len(w.subscribers))
	copy(subs, w.subscribers)
	w.mu.Unlock()

	w.logger.Info("worker manifest reloaded", "path", w.path, "workers", len(descriptors))
	for _, ch := range subs {
		select {
		case ch <- descriptors:
		default:
		}
	}
}
