package remotetail

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qaenablers/qautils/pkg/config"
	"github.com/qaenablers/qautils/pkg/logger"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultStartDelay   = 3 * time.Second
	DefaultGracePeriod  = 3 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

var (
	ErrAlreadyStarted = errors.New("tailer already started")
	ErrStopped        = errors.New("tailer stopped")
)

// Config describes one remote log file and where its lines are captured.
type Config struct {
	Host                        string
	Port                        string
	User                        string
	KeyPath                     string
	Passphrase                  []byte
	Password                    string
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool

	RemoteLogPath     string
	RemoteLogFileName string
	LocalLogTarget    string

	// StartDelay is waited at the end of Start so the remote tail is
	// running before the caller triggers the traffic it wants to capture.
	StartDelay time.Duration
	// GracePeriod is waited at the start of Stop so trailing lines arrive.
	GracePeriod time.Duration
	// PollInterval separates reconnections after the remote stream ends.
	PollInterval time.Duration
}

// DefaultConfig returns a Config with the standard timings.
func DefaultConfig() Config {
	return Config{
		StartDelay:   DefaultStartDelay,
		GracePeriod:  DefaultGracePeriod,
		PollInterval: DefaultPollInterval,
	}
}

// ConfigFromService builds the tail configuration for one log file of a
// configured service.
func ConfigFromService(svc config.ServiceConfig, fileName, localTarget string) Config {
	cfg := DefaultConfig()
	cfg.Host = svc.Host
	cfg.User = svc.HostUser
	cfg.Password = svc.HostPassword.Value()
	cfg.KeyPath = svc.HostPrivateKeyLocation
	cfg.RemoteLogPath = svc.ServiceLogPath
	cfg.RemoteLogFileName = fileName
	cfg.LocalLogTarget = localTarget
	return cfg
}

// RemotePath is the file followed on the remote host.
func (c Config) RemotePath() string {
	return joinPath(c.RemoteLogPath, c.RemoteLogFileName)
}

// LocalPath is the file the captured lines are written to.
func (c Config) LocalPath() string {
	return filepath.Join(c.LocalLogTarget, c.RemoteLogFileName)
}

// joinPath keeps remote paths in slash form regardless of the local OS.
func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	if dir[len(dir)-1] == '/' {
		return dir + name
	}
	return dir + "/" + name
}

type Option func(*Tailer)

// WithStreamer replaces the SSH stream source.
func WithStreamer(s Streamer) Option {
	return func(t *Tailer) {
		t.streamer = s
	}
}

// WithFs sets the filesystem the capture file is created on.
func WithFs(fs afero.Fs) Option {
	return func(t *Tailer) {
		t.fs = fs
	}
}

// Tailer copies the lines appended to a remote log into a local file until
// it is stopped. Each Tailer owns its cancellation, so several can run side
// by side.
type Tailer struct {
	cfg      Config
	streamer Streamer
	fs       afero.Fs

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	file    afero.File
	started bool
	stopped bool
	lines   atomic.Int64
}

func New(cfg Config, opts ...Option) *Tailer {
	t := &Tailer{cfg: cfg, fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(t)
	}
	if t.streamer == nil {
		t.streamer = SSHStreamer{
			Host:                        cfg.Host,
			Port:                        cfg.Port,
			User:                        cfg.User,
			KeyPath:                     cfg.KeyPath,
			Passphrase:                  cfg.Passphrase,
			Password:                    cfg.Password,
			KnownHostsPath:              cfg.KnownHostsPath,
			InsecureSkipHostKeyChecking: cfg.InsecureSkipHostKeyChecking,
		}
	}
	return t
}

// Lines returns how many lines were captured so far.
func (t *Tailer) Lines() int64 {
	return t.lines.Load()
}

// Start connects to the remote file, opens the local capture file and
// starts copying in the background. Canceling ctx also ends the capture.
func (t *Tailer) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return ErrStopped
	}
	if t.started {
		return ErrAlreadyStarted
	}
	log := logger.FromContext(ctx).With("remote", t.cfg.RemotePath())
	log.Info("Remote tailer: connecting to remote host", "host", t.cfg.Host, "user", t.cfg.User)
	runCtx, cancel := context.WithCancel(ctx)
	stream, err := t.streamer.Stream(runCtx, t.cfg.RemotePath())
	if err != nil {
		cancel()
		return fmt.Errorf("failed to tail %s: %w", t.cfg.RemotePath(), err)
	}
	log.Debug("Remote tailer: opening local capture file", "local", t.cfg.LocalPath())
	file, err := t.fs.Create(t.cfg.LocalPath())
	if err != nil {
		stream.Close()
		cancel()
		return fmt.Errorf("failed to create capture file: %w", err)
	}
	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return t.capture(logger.ContextWithLogger(groupCtx, log), stream, file)
	})
	t.cancel = cancel
	t.group = group
	t.file = file
	t.started = true
	log.Debug("Remote tailer: start delay", "delay", t.cfg.StartDelay)
	sleep(ctx, t.cfg.StartDelay)
	return nil
}

// Stop waits the grace period, ends the capture and closes the capture
// file. Calling it again, or before Start, is a no-op.
func (t *Tailer) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started || t.stopped {
		t.stopped = true
		return nil
	}
	t.stopped = true
	time.Sleep(t.cfg.GracePeriod)
	t.cancel()
	waitErr := t.group.Wait()
	closeErr := t.file.Close()
	return errors.Join(waitErr, closeErr)
}

// capture copies stream into w, reopening the stream each time it ends,
// until ctx is done.
func (t *Tailer) capture(ctx context.Context, stream io.ReadCloser, w io.Writer) error {
	log := logger.FromContext(ctx)
	poll := t.cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	for {
		err := t.copyLines(ctx, stream, w)
		if ctx.Err() != nil {
			log.Debug("Remote tailer: capture finished", "lines", t.Lines())
			return nil
		}
		if err != nil {
			log.Error("Remote tailer: error when reading remote log lines", "error", err)
		}
		for {
			if !sleep(ctx, poll) {
				log.Debug("Remote tailer: capture finished", "lines", t.Lines())
				return nil
			}
			stream, err = t.streamer.Stream(ctx, t.cfg.RemotePath())
			if err == nil {
				break
			}
			log.Error("Remote tailer: reconnection failed", "error", err)
		}
	}
}

func (t *Tailer) copyLines(ctx context.Context, stream io.ReadCloser, w io.Writer) error {
	stop := context.AfterFunc(ctx, func() {
		stream.Close()
	})
	defer func() {
		stop()
		stream.Close()
	}()
	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		if _, err := io.WriteString(w, scanner.Text()+"\n"); err != nil {
			return fmt.Errorf("failed to write captured line: %w", err)
		}
		t.lines.Add(1)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read remote stream: %w", err)
	}
	return nil
}

// sleep waits d or until ctx is done and reports whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
