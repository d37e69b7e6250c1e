package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const settingsDocument = `{
	// shared by every suite
	"environment": {"name": "qa"},
	"remote_logs": {"capture_local_path": "./_output/logs"},
	"services": {
		"keystone": {
			"protocol": "http",
			"host": "localhost",
			"port": 5000,
			"resource": "v3",
			"host_user": "root",
			"host_password": "secret",
			"service_log_path": "/var/log/keystone",
			"service_log_file_names": ["keystone.log", "access.log"],
			"os_password": "admin-secret",
		},
	},
}`

func writeSettings(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func TestLoader_Load(t *testing.T) {
	t.Run("Should load defaults without sources", func(t *testing.T) {
		settings, err := NewService().Load(t.Context())

		require.NoError(t, err)
		assert.Empty(t, settings.Environment.Name)
		assert.NotNil(t, settings.Services)
		assert.Empty(t, settings.Services)
	})

	t.Run("Should load a commented settings file", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeSettings(t, fs, "settings.json", settingsDocument)
		svc := NewService()

		settings, err := svc.Load(t.Context(), NewFileProviderFs(fs, "settings.json"))

		require.NoError(t, err)
		assert.Equal(t, "qa", settings.Environment.Name)
		assert.Equal(t, "./_output/logs", settings.RemoteLogs.CaptureLocalPath)
		keystone, ok := settings.Service("keystone")
		require.True(t, ok)
		assert.Equal(t, "http", keystone.Protocol)
		assert.Equal(t, "5000", keystone.Port)
		assert.Equal(t, "secret", keystone.HostPassword.Value())
		assert.Equal(t, "admin-secret", keystone.OSPassword.Value())
		assert.Equal(t, []string{"keystone.log", "access.log"}, keystone.ServiceLogFileNames)
		assert.Equal(t, SourceFile, svc.GetSource("environment.name"))
		assert.Equal(t, []string{"keystone"}, settings.ServiceNames())
	})

	t.Run("Should let the environment override the file", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeSettings(t, fs, "settings.json", settingsDocument)
		t.Setenv("QAUTILS_ENVIRONMENT_NAME", "staging")
		t.Setenv("QAUTILS_SERVICES__KEYSTONE__HOST", "10.0.0.1")
		t.Setenv("QAUTILS_UNRELATED", "ignored")
		svc := NewService()

		settings, err := svc.Load(t.Context(), NewFileProviderFs(fs, "settings.json"))

		require.NoError(t, err)
		assert.Equal(t, "staging", settings.Environment.Name)
		assert.Equal(t, "10.0.0.1", settings.Services["keystone"].Host)
		assert.Equal(t, "v3", settings.Services["keystone"].Resource)
		assert.Equal(t, SourceEnv, svc.GetSource("environment.name"))
		assert.Equal(t, SourceEnv, svc.GetSource("services.keystone.host"))
	})

	t.Run("Should let CLI flags override the environment", func(t *testing.T) {
		t.Setenv("QAUTILS_ENVIRONMENT_NAME", "staging")
		svc := NewService()

		settings, err := svc.Load(t.Context(), NewCLIProvider(map[string]any{
			"environment": "local",
			"log-level":   "debug",
		}))

		require.NoError(t, err)
		assert.Equal(t, "local", settings.Environment.Name)
		assert.Equal(t, SourceCLI, svc.GetSource("environment.name"))
	})

	t.Run("Should treat a missing file as empty", func(t *testing.T) {
		settings, err := NewService().Load(t.Context(), NewFileProviderFs(afero.NewMemMapFs(), "absent.json"))

		require.NoError(t, err)
		assert.Empty(t, settings.Services)
	})

	t.Run("Should fail on malformed files", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeSettings(t, fs, "settings.json", `{"environment": `)

		_, err := NewService().Load(t.Context(), NewFileProviderFs(fs, "settings.json"))

		assert.ErrorIs(t, err, ErrSettingsMalformed)
	})
}

func TestLoader_Validate(t *testing.T) {
	svc := NewService()

	t.Run("Should reject unknown protocols", func(t *testing.T) {
		settings := Default()
		settings.Services["api"] = ServiceConfig{Protocol: "ftp", Host: "h"}

		assert.Error(t, svc.Validate(settings))
	})

	t.Run("Should reject ports out of range", func(t *testing.T) {
		settings := Default()
		settings.Services["api"] = ServiceConfig{Protocol: "https", Host: "h", Port: "70000"}

		assert.Error(t, svc.Validate(settings))
	})

	t.Run("Should require a host when a protocol is set", func(t *testing.T) {
		settings := Default()
		settings.Services["api"] = ServiceConfig{Protocol: "http"}

		err := svc.Validate(settings)

		assert.ErrorContains(t, err, `service "api": host is required`)
	})

	t.Run("Should require a host user to read service logs", func(t *testing.T) {
		settings := Default()
		settings.Services["api"] = ServiceConfig{ServiceLogPath: "/var/log"}

		assert.ErrorContains(t, svc.Validate(settings), "host_user is required")
	})

	t.Run("Should accept a complete service", func(t *testing.T) {
		settings := Default()
		settings.Services["api"] = ServiceConfig{Protocol: "https", Host: "h", Port: "443"}

		assert.NoError(t, svc.Validate(settings))
	})

	t.Run("Should reject nil settings", func(t *testing.T) {
		assert.Error(t, svc.Validate(nil))
	})
}

func TestEnvMappings(t *testing.T) {
	t.Run("Should map tagged fields", func(t *testing.T) {
		mappings := GenerateEnvMappings()

		assert.Contains(t, mappings, EnvMapping{EnvVar: "QAUTILS_ENVIRONMENT_NAME", ConfigPath: "environment.name"})
		assert.Contains(t, mappings, EnvMapping{
			EnvVar:     "QAUTILS_REMOTE_LOGS_CAPTURE_LOCAL_PATH",
			ConfigPath: "remote_logs.capture_local_path",
		})
	})

	t.Run("Should transform double underscore paths", func(t *testing.T) {
		assert.Equal(t, "services.nova.os_auth_url", transformEnvKey("QAUTILS_SERVICES__NOVA__OS_AUTH_URL"))
		assert.Equal(t, "", transformEnvKey("QAUTILS_LOG_LEVEL"))
		assert.Equal(t, "", transformEnvKey("QAUTILS_SERVICES____HOST"))
	})

	t.Run("Should flag sensitive paths", func(t *testing.T) {
		assert.True(t, IsSensitiveConfigPath("services.keystone.host_password"))
		assert.True(t, IsSensitiveConfigPath("services.nova.os_password"))
		assert.False(t, IsSensitiveConfigPath("services.keystone.host_user"))
		assert.False(t, IsSensitiveConfigPath("environment.name"))
	})
}
