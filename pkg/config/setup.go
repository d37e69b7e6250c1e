package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/qaenablers/qautils/pkg/logger"
	"github.com/spf13/afero"
)

// Load reads the settings document at path and returns it as a raw mapping.
// Errors wrap ErrSettingsNotFound or ErrSettingsMalformed.
func Load(ctx context.Context, path string) (map[string]any, error) {
	return LoadFs(ctx, afero.NewOsFs(), path)
}

func LoadFs(ctx context.Context, fs afero.Fs, path string) (map[string]any, error) {
	log := logger.FromContext(ctx)
	log.Info("Loading project properties", "path", path)
	raw, err := readSettings(fs, path)
	if err != nil {
		log.Error("Settings file cannot be loaded", "path", path, "error", err)
		return nil, err
	}
	return raw, nil
}

// SetUpProject prepares a test execution: it loads the .env file next to
// the settings document, loads typed settings from path and the
// environment, and creates the remote log capture directory when one is
// configured.
func SetUpProject(ctx context.Context, fs afero.Fs, path string) (*Settings, error) {
	log := logger.FromContext(ctx)
	log.Info("Setting up test execution", "settings", path)
	if _, err := fs.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSettingsNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat settings file %s: %w", path, err)
	}
	if err := LoadDotEnv(fs, filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	settings, err := NewService().Load(ctx, NewFileProviderFs(fs, path))
	if err != nil {
		return nil, err
	}
	if dir := settings.RemoteLogs.CaptureLocalPath; dir != "" {
		log.Debug("Creating directory for remote log capturing", "path", dir)
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create remote log directory %s: %w", dir, err)
		}
	}
	return settings, nil
}

// LoadDotEnv exports the variables of a dotenv file that are not already
// set in the process environment. A missing file is not an error.
func LoadDotEnv(fs afero.Fs, path string) error {
	f, err := fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	vars, err := godotenv.Parse(f)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for key, value := range vars {
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to export %s: %w", key, err)
		}
	}
	return nil
}
