package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/qaenablers/qautils/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const testSettings = `{
	// services under test
	"environment": {"name": "dev"},
	"services": {
		"keystone": {
			"protocol": "http",
			"host": "127.0.0.1",
			"port": "5000",
			"host_user": "root",
			"host_password": "hunter2",
			"service_log_path": "/var/log/keystone/",
		},
	},
}`

func writeSettingsFile(t *testing.T, content string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "settings")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := RootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := Execute(t.Context(), cmd)
	return out.String(), err
}

func TestSetupGlobalConfig(t *testing.T) {
	t.Run("Should load the settings file and apply CLI overrides", func(t *testing.T) {
		path := writeSettingsFile(t, testSettings)

		out, err := runCLI(t, "", "config", "show", "--format", "json", "--settings", path, "--environment", "qa")

		require.NoError(t, err)
		assert.Equal(t, "qa", gjson.Get(out, "environment.name").String())
		assert.Equal(t, "127.0.0.1", gjson.Get(out, "services.keystone.host").String())
	})

	t.Run("Should let the environment override the file", func(t *testing.T) {
		path := writeSettingsFile(t, testSettings)
		t.Setenv("QAUTILS_SERVICES__KEYSTONE__HOST", "10.0.0.9")

		out, err := runCLI(t, "", "config", "show", "--format", "json", "--settings", path)

		require.NoError(t, err)
		assert.Equal(t, "10.0.0.9", gjson.Get(out, "services.keystone.host").String())
	})

	t.Run("Should fail when an explicit settings file is missing", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "absent.json")

		_, err := runCLI(t, "", "config", "show", "--settings", missing)

		assert.ErrorIs(t, err, config.ErrSettingsNotFound)
	})

	t.Run("Should reject invalid settings", func(t *testing.T) {
		path := writeSettingsFile(t, `{"services": {"bad": {"protocol": "ftp", "host": "h"}}}`)

		_, err := runCLI(t, "", "config", "show", "--settings", path)

		assert.ErrorContains(t, err, "validation failed")
	})

	t.Run("Should export the .env file next to the settings", func(t *testing.T) {
		path := writeSettingsFile(t, testSettings)
		envFile := filepath.Join(filepath.Dir(path), ".env")
		require.NoError(t, os.WriteFile(envFile, []byte("QAUTILS_ENVIRONMENT_NAME=staging\n"), 0o600))
		t.Setenv("QAUTILS_ENVIRONMENT_NAME", "")
		require.NoError(t, os.Unsetenv("QAUTILS_ENVIRONMENT_NAME"))

		out, err := runCLI(t, "", "config", "show", "--format", "json", "--settings", path)

		require.NoError(t, err)
		assert.Equal(t, "staging", gjson.Get(out, "environment.name").String())
	})
}

func TestExecute(t *testing.T) {
	t.Run("Should release the log file and settings when the command fails", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "qautils.log")
		cmd := RootCmd()
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		cmd.SetArgs([]string{
			"exec", "--settings", writeSettingsFile(t, testSettings),
			"--log-file", logFile, "--", "exit 4",
		})
		res := &resources{}

		err := execute(t.Context(), cmd, res)

		var exitErr *ExitCodeError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 4, exitErr.Code)
		assert.True(t, res.released)
		assert.Len(t, res.closers, 2)
		assert.NoError(t, res.release())
	})

	t.Run("Should release what was opened before set-up failed", func(t *testing.T) {
		cmd := RootCmd()
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		cmd.SetArgs([]string{"config", "show", "--settings", filepath.Join(t.TempDir(), "absent.json")})
		res := &resources{}

		err := execute(t.Context(), cmd, res)

		assert.ErrorIs(t, err, config.ErrSettingsNotFound)
		assert.True(t, res.released)
		assert.Len(t, res.closers, 1)
	})
}

func TestVersionCmd(t *testing.T) {
	t.Run("Should print the version as JSON", func(t *testing.T) {
		out, err := runCLI(t, "", "version", "--json", "--settings", writeSettingsFile(t, testSettings))

		require.NoError(t, err)
		assert.NotEmpty(t, gjson.Get(out, "version").String())
		assert.NotEmpty(t, gjson.Get(out, "go_version").String())
	})
}
