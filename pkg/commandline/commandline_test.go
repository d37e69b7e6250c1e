package commandline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute(t *testing.T) {
	t.Run("Should return command output", func(t *testing.T) {
		out := Execute(t.Context(), "echo hello")

		assert.Equal(t, "hello\n", out)
	})

	t.Run("Should combine stdout and stderr", func(t *testing.T) {
		out := Execute(t.Context(), "echo out; echo err 1>&2")

		assert.Contains(t, out, "out\n")
		assert.Contains(t, out, "err\n")
	})

	t.Run("Should return captured output on non-zero exit", func(t *testing.T) {
		out := Execute(t.Context(), "echo failing; exit 3")

		assert.Equal(t, "failing\n", out)
	})

	t.Run("Should return empty output for blank commands", func(t *testing.T) {
		assert.Empty(t, Execute(t.Context(), "   "))
	})
}

func TestRunner_Run(t *testing.T) {
	t.Run("Should report exit codes", func(t *testing.T) {
		res, err := NewRunner().Run(t.Context(), "exit 7")

		require.NoError(t, err)
		assert.Equal(t, 7, res.ExitCode)
		assert.False(t, res.Success())
	})

	t.Run("Should flag timeouts", func(t *testing.T) {
		res, err := NewRunner(WithTimeout(50*time.Millisecond)).Run(t.Context(), "sleep 5")

		require.NoError(t, err)
		assert.True(t, res.TimedOut)
		assert.False(t, res.Success())
	})

	t.Run("Should truncate output above the cap", func(t *testing.T) {
		res, err := NewRunner(WithMaxOutput(4)).Run(t.Context(), "printf abcdefgh")

		require.NoError(t, err)
		assert.Equal(t, "abcd", res.Output)
		assert.True(t, res.Truncated)
	})

	t.Run("Should pass extra environment and working directory", func(t *testing.T) {
		dir := t.TempDir()
		runner := NewRunner(WithEnv(map[string]string{"QAUTILS_TEST_VALUE": "42"}), WithDir(dir))

		res, err := runner.Run(t.Context(), "echo $QAUTILS_TEST_VALUE; pwd")

		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(res.Output), "\n")
		require.Len(t, lines, 2)
		assert.Equal(t, "42", lines[0])
		assert.Contains(t, lines[1], dir)
	})

	t.Run("Should fail when the shell cannot be started", func(t *testing.T) {
		_, err := NewRunner(WithShell("/nonexistent/shell")).Run(t.Context(), "true")

		assert.ErrorContains(t, err, "failed to execute command")
	})

	t.Run("Should stop when the context is canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		_, err := NewRunner().Run(ctx, "sleep 5")

		assert.Error(t, err)
	})
}

func TestRunner_RunArgs(t *testing.T) {
	t.Run("Should run without a shell", func(t *testing.T) {
		res, err := NewRunner().RunArgs(t.Context(), "echo", "a b", "$HOME")

		require.NoError(t, err)
		assert.Equal(t, "a b $HOME\n", res.Output)
	})

	t.Run("Should require a command", func(t *testing.T) {
		_, err := NewRunner().RunArgs(t.Context())

		assert.Error(t, err)
	})
}

func TestSplit(t *testing.T) {
	t.Run("Should honor quotes", func(t *testing.T) {
		parts, err := Split(`curl -H "Accept: application/json" 'http://host/a b'`)

		require.NoError(t, err)
		assert.Equal(t, []string{"curl", "-H", "Accept: application/json", "http://host/a b"}, parts)
	})

	t.Run("Should reject unterminated quotes", func(t *testing.T) {
		_, err := Split(`echo "open`)

		assert.Error(t, err)
	})
}

func TestLimitedBuffer(t *testing.T) {
	t.Run("Should count every written byte", func(t *testing.T) {
		buf := newLimitedBuffer(2)

		n, err := buf.Write([]byte("abc"))

		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, int64(3), buf.Written())
		assert.Equal(t, "ab", buf.String())
		assert.True(t, buf.Truncated())
	})

	t.Run("Should keep everything without a limit", func(t *testing.T) {
		buf := newLimitedBuffer(0)

		_, _ = buf.Write([]byte("stdout "))
		_, _ = buf.Write([]byte("stderr"))

		assert.Equal(t, "stdout stderr", buf.String())
		assert.False(t, buf.Truncated())
	})
}
