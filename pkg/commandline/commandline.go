package commandline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/qaenablers/qautils/pkg/logger"
)

const (
	DefaultShell     = "/bin/sh"
	DefaultMaxOutput = 10 << 20

	waitDelay = time.Second
)

// Result describes a finished command.
type Result struct {
	Output    string
	ExitCode  int
	Duration  time.Duration
	TimedOut  bool
	Truncated bool
}

// Success reports a zero exit code without timeout.
func (r Result) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// Option configures a Runner.
type Option func(*Runner)

// WithShell sets the shell used by Run. The command is passed as "-c <command>".
func WithShell(path string) Option {
	return func(r *Runner) {
		r.shell = path
	}
}

// WithTimeout bounds each command. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.timeout = d
	}
}

// WithMaxOutput caps the captured combined output in bytes. Zero disables the cap.
func WithMaxOutput(n int64) Option {
	return func(r *Runner) {
		r.maxOutput = n
	}
}

func WithDir(dir string) Option {
	return func(r *Runner) {
		r.dir = dir
	}
}

// WithEnv adds variables on top of the current process environment.
func WithEnv(env map[string]string) Option {
	return func(r *Runner) {
		r.env = env
	}
}

// Runner executes local commands synchronously.
type Runner struct {
	shell     string
	timeout   time.Duration
	maxOutput int64
	dir       string
	env       map[string]string
}

func NewRunner(opts ...Option) *Runner {
	r := &Runner{shell: DefaultShell, maxOutput: DefaultMaxOutput}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes command through the shell and waits for it. A non-zero exit
// is not an error: it is reported in Result.ExitCode. Errors are returned
// only when the process could not be run at all.
func (r *Runner) Run(ctx context.Context, command string) (Result, error) {
	if strings.TrimSpace(command) == "" {
		return Result{}, fmt.Errorf("command must be provided")
	}
	return r.run(ctx, r.shell, "-c", command)
}

// RunArgs executes argv without a shell.
func (r *Runner) RunArgs(ctx context.Context, argv ...string) (Result, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return Result{}, fmt.Errorf("command must be provided")
	}
	return r.run(ctx, argv[0], argv[1:]...)
}

func (r *Runner) run(ctx context.Context, name string, args ...string) (Result, error) {
	log := logger.FromContext(ctx)
	cmdCtx, cancel := createCommandContext(ctx, r.timeout)
	defer cancel()
	cmd := exec.CommandContext(cmdCtx, name, args...)
	if strings.TrimSpace(r.dir) != "" {
		cmd.Dir = r.dir
	}
	cmd.Env = mergeEnvironment(r.env)
	cmd.WaitDelay = waitDelay
	// Same writer for both streams: exec serializes the writes.
	output := newLimitedBuffer(r.maxOutput)
	cmd.Stdout = output
	cmd.Stderr = output
	log.Debug("Executing command", "command", name, "args", args)
	start := time.Now()
	err := cmd.Run()
	res := Result{
		Output:    output.String(),
		Duration:  time.Since(start),
		TimedOut:  cmdCtx.Err() != nil && errors.Is(cmdCtx.Err(), context.DeadlineExceeded),
		Truncated: output.Truncated(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return res, fmt.Errorf("failed to execute command: %w", err)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	return res, nil
}

func createCommandContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func mergeEnvironment(extra map[string]string) []string {
	base := os.Environ()
	if len(extra) == 0 {
		return base
	}
	merged := make([]string, 0, len(base)+len(extra))
	replaced := make(map[string]struct{}, len(extra))
	for _, kv := range base {
		equal := strings.IndexByte(kv, '=')
		if equal <= 0 {
			continue
		}
		key := kv[:equal]
		if value, ok := extra[key]; ok {
			merged = append(merged, key+"="+value)
			replaced[key] = struct{}{}
			continue
		}
		merged = append(merged, kv)
	}
	for key, value := range extra {
		if _, ok := replaced[key]; ok {
			continue
		}
		merged = append(merged, key+"="+value)
	}
	return merged
}

// Split tokenizes a command line using shell quoting rules without
// invoking a shell.
func Split(command string) ([]string, error) {
	parts, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command %q: %w", command, err)
	}
	return parts, nil
}

var defaultRunner = NewRunner()

// Execute runs command through the shell and returns its combined output.
// It never fails: a non-zero exit is logged and its output returned, and a
// command that cannot start yields an empty string.
func Execute(ctx context.Context, command string) string {
	log := logger.FromContext(ctx)
	res, err := defaultRunner.Run(ctx, command)
	if err != nil {
		log.Error("Command execution crashed", "command", command, "error", err)
		return res.Output
	}
	if !res.Success() {
		log.Warn(
			"Command execution failed",
			"command", command,
			"exit_code", res.ExitCode,
			"timed_out", res.TimedOut,
			"output", res.Output,
		)
	}
	return res.Output
}
