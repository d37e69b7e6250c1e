package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/qaenablers/qautils/pkg/logger"
)

// Watcher reports changes to settings files. It watches the parent
// directory of each file so that editors which save by renaming a
// temporary file over the original are still noticed.
type Watcher struct {
	notify *fsnotify.Watcher
	log    logger.Logger

	mu        sync.Mutex
	files     map[string]context.Context
	dirs      map[string]int
	listeners []func()

	done      chan struct{}
	runOnce   sync.Once
	closeOnce sync.Once
}

func NewWatcher() (*Watcher, error) {
	notify, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		notify: notify,
		log:    logger.GetDefault(),
		files:  make(map[string]context.Context),
		dirs:   make(map[string]int),
		done:   make(chan struct{}),
	}, nil
}

// Watch reports changes to the existing file at path until ctx is done or
// the watcher is closed.
func (w *Watcher) Watch(ctx context.Context, path string) error {
	file, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	if _, err := os.Stat(file); err != nil {
		return fmt.Errorf("failed to watch settings file: %w", err)
	}
	dir := filepath.Dir(file)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirs[dir] == 0 {
		if err := w.notify.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	w.dirs[dir]++
	w.files[file] = ctx
	w.log = logger.FromContext(ctx)
	go w.release(ctx, file)
	w.runOnce.Do(func() {
		go w.run()
	})
	return nil
}

// OnChange registers fn to run after every change of a watched file.
func (w *Watcher) OnChange(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

func (w *Watcher) release(ctx context.Context, file string) {
	select {
	case <-ctx.Done():
	case <-w.done:
		return
	}
	dir := filepath.Dir(file)
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.files, file)
	w.dirs[dir]--
	if w.dirs[dir] > 0 {
		return
	}
	delete(w.dirs, dir)
	if err := w.notify.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrClosed) {
		w.log.Debug("Failed to stop watching settings directory", "path", dir, "error", err)
	}
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.notify.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if listeners := w.listenersFor(filepath.Clean(event.Name)); listeners != nil {
				for _, fn := range listeners {
					fn()
				}
			}
		case err, ok := <-w.notify.Errors:
			if !ok {
				return
			}
			w.mu.Lock()
			log := w.log
			w.mu.Unlock()
			log.Error("Settings watcher failed", "error", err)
		}
	}
}

// listenersFor returns a snapshot of the listeners when file is watched by
// a live context, nil otherwise.
func (w *Watcher) listenersFor(file string) []func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	ctx, ok := w.files[file]
	if !ok || ctx.Err() != nil {
		return nil
	}
	return append([]func(){}, w.listeners...)
}

// Close stops the watcher. Calling it again is a no-op.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		if closeErr := w.notify.Close(); closeErr != nil {
			err = fmt.Errorf("failed to close watcher: %w", closeErr)
		}
	})
	return err
}
