package config

import (
	"context"
	"sync"

	"github.com/qaenablers/qautils/pkg/logger"
)

// ContextKey is an alias used for storing values in context
type ContextKey string

const (
	// ManagerCtxKey is the context key used to store the *Manager instance
	ManagerCtxKey ContextKey = "config_manager"
	// SettingsCtxKey is the context key used to store a fixed *Settings
	SettingsCtxKey ContextKey = "settings"
)

// ContextWithManager stores the settings manager in the context
func ContextWithManager(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, ManagerCtxKey, m)
}

// ContextWithSettings stores a settings snapshot in the context. It takes
// precedence over any manager carried by the same context.
func ContextWithSettings(ctx context.Context, s *Settings) context.Context {
	return context.WithValue(ctx, SettingsCtxKey, s)
}

var (
	defaultManager     *Manager
	defaultManagerOnce sync.Once
)

// ManagerFromContext retrieves the settings manager from the context,
// falling back to a lazily loaded manager built from defaults and the
// environment.
func ManagerFromContext(ctx context.Context) *Manager {
	if ctx != nil {
		if m, ok := ctx.Value(ManagerCtxKey).(*Manager); ok && m != nil {
			return m
		}
	}
	return getDefaultManager(ctx)
}

// FromContext returns the active settings for ctx.
func FromContext(ctx context.Context) *Settings {
	if ctx != nil {
		if s, ok := ctx.Value(SettingsCtxKey).(*Settings); ok && s != nil {
			return s
		}
	}
	m := ManagerFromContext(ctx)
	if m == nil {
		return nil
	}
	if s := m.Get(); s != nil {
		return s
	}
	return Default()
}

func getDefaultManager(ctx context.Context) *Manager {
	defaultManagerOnce.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		m := NewManager(NewService())
		if _, err := m.Load(ctx); err != nil {
			logger.FromContext(ctx).Warn("Failed to load default settings, using fallback defaults", "error", err)
		}
		defaultManager = m
	})
	return defaultManager
}
