package config

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qaenablers/qautils/pkg/logger"
	"github.com/romdo/go-debounce"
)

// Manager holds the current settings and reloads them when a watched
// source changes.
type Manager struct {
	Service     Service
	current     atomic.Pointer[Settings]
	sources     []Source
	callbacks   []func(*Settings)
	callbackMu  sync.RWMutex
	reloadMu    sync.Mutex
	watchCtx    context.Context
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
	closeOnce   sync.Once

	// debounce merges bursts of file events into one reload.
	debounce       time.Duration
	cancelDebounce func()
}

// NewManager creates a new settings manager.
func NewManager(service Service) *Manager {
	if service == nil {
		service = NewService()
	}
	return &Manager{
		Service:   service,
		callbacks: make([]func(*Settings), 0),
		debounce:  100 * time.Millisecond,
	}
}

// Load loads settings from sources and starts watching the ones that
// support it.
func (m *Manager) Load(ctx context.Context, sources ...Source) (*Settings, error) {
	m.reloadMu.Lock()
	m.sources = append([]Source(nil), sources...)
	m.reloadMu.Unlock()
	settings, err := m.Service.Load(ctx, sources...)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	m.applySettings(settings)
	if m.watchCancel != nil {
		m.watchCancel()
	}
	m.watchCtx, m.watchCancel = context.WithCancel(context.WithoutCancel(ctx))
	m.startWatching(sources)
	return settings, nil
}

// Get returns the current settings, or nil before the first Load.
func (m *Manager) Get() *Settings {
	return m.current.Load()
}

// Reload forces a reload from all sources. The current settings are kept
// when the new ones fail to load.
func (m *Manager) Reload(ctx context.Context) error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	settings, err := m.Service.Load(ctx, m.sources...)
	if err != nil {
		return fmt.Errorf("failed to reload settings: %w", err)
	}
	m.applySettings(settings)
	return nil
}

// SetDebounce sets how long the manager waits after the last file event
// before reloading. Zero reloads on every event.
func (m *Manager) SetDebounce(duration time.Duration) {
	m.debounce = duration
}

// OnChange registers a callback invoked with the new settings after each
// reload that changed them.
func (m *Manager) OnChange(callback func(*Settings)) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// Close stops watching and releases the sources.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		if m.watchCancel != nil {
			m.watchCancel()
		}
		m.watchWg.Wait()
		if m.cancelDebounce != nil {
			m.cancelDebounce()
		}
		m.reloadMu.Lock()
		sources := append([]Source(nil), m.sources...)
		m.reloadMu.Unlock()
		for _, source := range sources {
			if source == nil {
				continue
			}
			if err := source.Close(); err != nil {
				logger.FromContext(ctx).Error("Failed to close settings source", "error", err)
			}
		}
	})
	return nil
}

func (m *Manager) startWatching(sources []Source) {
	ctx := m.watchCtx
	if m.cancelDebounce != nil {
		m.cancelDebounce()
	}
	reload := func() { m.reloadWatched(ctx) }
	m.cancelDebounce = nil
	if m.debounce > 0 {
		reload, m.cancelDebounce = debounce.New(m.debounce, reload)
	}
	for _, source := range sources {
		if source == nil {
			continue
		}
		src := source
		m.watchWg.Add(1)
		go func() {
			defer m.watchWg.Done()
			err := src.Watch(ctx, reload)
			if err != nil {
				logger.FromContext(ctx).Debug("Settings source is not watched", "source", src.Type(), "error", err)
			}
		}()
	}
}

func (m *Manager) reloadWatched(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := m.Reload(ctx); err != nil {
		logger.FromContext(ctx).Error("Failed to reload settings", "error", err)
	}
}

func (m *Manager) applySettings(settings *Settings) {
	previous := m.current.Swap(settings)
	if previous != nil && reflect.DeepEqual(previous, settings) {
		return
	}
	m.callbackMu.RLock()
	callbacks := make([]func(*Settings), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.callbackMu.RUnlock()
	for _, callback := range callbacks {
		if callback != nil {
			callback(settings)
		}
	}
}
