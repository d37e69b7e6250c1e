package remotetail

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	defaultSSHPort     = "22"
	defaultDialRetries = 3
	dialBackoffBase    = 200 * time.Millisecond
)

// Streamer opens a stream of the lines appended to a remote file.
type Streamer interface {
	Stream(ctx context.Context, path string) (io.ReadCloser, error)
}

// SSHStreamer follows remote files with `tail -F` over SSH.
type SSHStreamer struct {
	Host                        string
	Port                        string
	User                        string
	KeyPath                     string
	Passphrase                  []byte
	Password                    string
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration
	// DialRetries bounds reconnection attempts on network errors.
	// Authentication failures are never retried.
	DialRetries uint64
}

func (s SSHStreamer) Stream(ctx context.Context, path string) (io.ReadCloser, error) {
	client, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to open ssh session: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("failed to attach to remote output: %w", err)
	}
	if err := session.Start("tail -n 0 -F " + shellEscape(path)); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("failed to start remote tail: %w", err)
	}
	return &sshStream{Reader: stdout, session: session, client: client}, nil
}

type sshStream struct {
	io.Reader
	session   *ssh.Session
	client    *ssh.Client
	closeOnce sync.Once
	closeErr  error
}

func (s *sshStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.session.Signal(ssh.SIGTERM)
		_ = s.session.Close()
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

func (s SSHStreamer) dial(ctx context.Context) (*ssh.Client, error) {
	address, err := s.address()
	if err != nil {
		return nil, err
	}
	config, err := s.clientConfig()
	if err != nil {
		return nil, err
	}
	retries := s.DialRetries
	if retries == 0 {
		retries = defaultDialRetries
	}
	var client *ssh.Client
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(dialBackoffBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		dialer := net.Dialer{Timeout: s.Timeout}
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return retry.RetryableError(err)
		}
		clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
		if err != nil {
			conn.Close()
			return err
		}
		client = ssh.NewClient(clientConn, chans, reqs)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s@%s: %w", s.User, address, err)
	}
	return client, nil
}

func (s SSHStreamer) address() (string, error) {
	host := strings.TrimSpace(s.Host)
	if host == "" {
		return "", fmt.Errorf("ssh host is required")
	}
	if s.Port != "" {
		return net.JoinHostPort(host, s.Port), nil
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}
	return net.JoinHostPort(host, defaultSSHPort), nil
}

func (s SSHStreamer) clientConfig() (*ssh.ClientConfig, error) {
	if s.User == "" {
		return nil, fmt.Errorf("ssh user is required")
	}
	auth, err := s.authMethods()
	if err != nil {
		return nil, err
	}
	var hostKeyCallback ssh.HostKeyCallback
	if s.InsecureSkipHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // opt-in for disposable test hosts
	} else {
		callback, err := s.knownHostsCallback()
		if err != nil {
			return nil, err
		}
		hostKeyCallback = callback
	}
	return &ssh.ClientConfig{
		User:            s.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         s.Timeout,
	}, nil
}

func (s SSHStreamer) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if s.KeyPath != "" {
		signer, err := s.signer()
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if s.Password != "" {
		methods = append(methods, ssh.Password(s.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("ssh key path or password is required")
	}
	return methods, nil
}

func (s SSHStreamer) signer() (ssh.Signer, error) {
	keyPath, err := ResolveKeyPath(s.KeyPath)
	if err != nil {
		return nil, err
	}
	privateKey, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key: %w", err)
	}
	if len(s.Passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, s.Passphrase)
	}
	return ssh.ParsePrivateKey(privateKey)
}

func (s SSHStreamer) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(s.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(path)
}

// ResolveKeyPath places a bare key file name under ~/.ssh.
func ResolveKeyPath(keyPath string) (string, error) {
	if keyPath == "" || strings.ContainsRune(keyPath, filepath.Separator) {
		return keyPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve ssh key %q: %w", keyPath, err)
	}
	return filepath.Join(home, ".ssh", keyPath), nil
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}
