package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"github.com/tailscale/hujson"
)

// cliFlagPaths maps the CLI flags that override settings to their paths.
var cliFlagPaths = map[string]string{
	"environment":        "environment.name",
	"capture-local-path": "remote_logs.capture_local_path",
}

// cliProvider implements Source for CLI flags.
type cliProvider struct {
	flags map[string]any
}

// NewCLIProvider creates a source from changed CLI flags keyed by flag name.
// Flags that do not override a setting are ignored.
func NewCLIProvider(flags map[string]any) Source {
	return &cliProvider{flags: flags}
}

func (c *cliProvider) Load() (map[string]any, error) {
	config := make(map[string]any)
	for key, value := range c.flags {
		path, ok := cliFlagPaths[key]
		if !ok {
			continue
		}
		if err := setNested(config, path, value); err != nil {
			return nil, fmt.Errorf("failed to set CLI flag %s: %w", key, err)
		}
	}
	return config, nil
}

// Watch is a no-op: flags do not change at runtime.
func (c *cliProvider) Watch(_ context.Context, _ func()) error {
	return nil
}

func (c *cliProvider) Type() SourceType {
	return SourceCLI
}

func (c *cliProvider) Close() error {
	return nil
}

// setNested sets a value in a nested map structure using dot notation.
// It returns an error if a path conflict is encountered.
func setNested(m map[string]any, path string, value any) error {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	current := m
	for i := 0; i < len(parts)-1; i++ {
		part := parts[i]
		if _, exists := current[part]; !exists {
			current[part] = make(map[string]any)
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return fmt.Errorf("configuration conflict: key %q is not a map", strings.Join(parts[:i+1], "."))
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
	return nil
}

// fileProvider implements Source for a settings JSON document. Comments and
// trailing commas are accepted.
type fileProvider struct {
	fs        afero.Fs
	path      string
	watcher   *Watcher
	watcherMu sync.Mutex
	watchOnce sync.Once
	closeOnce sync.Once
}

// NewFileProvider creates a settings file source on the OS filesystem.
// A missing file yields no data.
func NewFileProvider(path string) Source {
	return NewFileProviderFs(afero.NewOsFs(), path)
}

func NewFileProviderFs(fs afero.Fs, path string) Source {
	return &fileProvider{fs: fs, path: path}
}

func (f *fileProvider) Load() (map[string]any, error) {
	data, err := readSettings(f.fs, f.path)
	if err != nil {
		if errors.Is(err, ErrSettingsNotFound) {
			return make(map[string]any), nil
		}
		return nil, err
	}
	return filterNilValues(data), nil
}

// Watch monitors the settings file. Repeated calls register extra callbacks
// on the same watcher.
func (f *fileProvider) Watch(ctx context.Context, callback func()) error {
	var watchErr error
	f.watchOnce.Do(func() {
		f.watcherMu.Lock()
		defer f.watcherMu.Unlock()
		watcher, err := NewWatcher()
		if err != nil {
			watchErr = fmt.Errorf("failed to create watcher: %w", err)
			return
		}
		if err := watcher.Watch(ctx, f.path); err != nil {
			_ = watcher.Close()
			watchErr = fmt.Errorf("failed to watch settings file: %w", err)
			return
		}
		f.watcher = watcher
	})
	if watchErr != nil {
		return watchErr
	}
	f.watcherMu.Lock()
	defer f.watcherMu.Unlock()
	if f.watcher == nil {
		return fmt.Errorf("settings file %s is not watched", f.path)
	}
	f.watcher.OnChange(callback)
	return nil
}

func (f *fileProvider) Type() SourceType {
	return SourceFile
}

func (f *fileProvider) Close() error {
	var closeErr error
	f.closeOnce.Do(func() {
		f.watcherMu.Lock()
		defer f.watcherMu.Unlock()
		if f.watcher != nil {
			closeErr = f.watcher.Close()
		}
	})
	return closeErr
}

// readSettings reads and decodes a settings document into a raw mapping.
func readSettings(fs afero.Fs, path string) (map[string]any, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSettingsNotFound, path)
		}
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}
	return parseSettings(data, path)
}

func parseSettings(data []byte, path string) (map[string]any, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSettingsMalformed, path, err)
	}
	var config map[string]any
	if err := json.Unmarshal(standardized, &config); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSettingsMalformed, path, err)
	}
	if config == nil {
		return nil, fmt.Errorf("%w: %s: document must be an object", ErrSettingsMalformed, path)
	}
	return config, nil
}

// filterNilValues recursively removes nil values from a map
// This prevents koanf from overriding existing values with nil
func filterNilValues(m map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range m {
		if v == nil {
			continue
		}
		if nestedMap, ok := v.(map[string]any); ok {
			filtered := filterNilValues(nestedMap)
			if len(filtered) > 0 {
				result[k] = filtered
			}
		} else {
			result[k] = v
		}
	}
	return result
}
