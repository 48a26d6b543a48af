package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

const (
	DefaultPort    = 22
	DefaultTimeout = 10 * time.Second

	runAttempts = 3
)

var ErrNotSupported = errors.New("remote shell not supported by this firmware")

type Credentials struct {
	Username string
	Password string
	Port     int
}

// Result of one remote command. A non-zero ExitStatus is not an error by itself.
type Result struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitStatus int    `json:"exit_status"`
}

// Client runs commands on a miner over SSH. Each call opens its own connection.
type Client struct {
	address string
	config  *ssh.ClientConfig
	logger  *zap.Logger
}

func NewClient(host string, creds Credentials, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if creds.Port <= 0 {
		creds.Port = DefaultPort
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	address := net.JoinHostPort(host, strconv.Itoa(creds.Port))

	return &Client{
		address: address,
		config: &ssh.ClientConfig{
			User: creds.Username,
			Auth: []ssh.AuthMethod{
				ssh.Password(creds.Password),
			},
			// Miner firmware regenerates host keys on every flash
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			HostKeyAlgorithms: []string{
				ssh.KeyAlgoED25519,
				ssh.KeyAlgoECDSA256,
				ssh.KeyAlgoRSASHA256,
				ssh.KeyAlgoRSA,
			},
			Timeout: timeout,
		},
		logger: logger.With(zap.String("ssh_address", address)),
	}
}

func (c *Client) Address() string {
	return c.address
}

func (c *Client) dial(ctx context.Context) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: c.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.address, err)
	}

	// Handshake-Deadline setzen
	conn.SetDeadline(time.Now().Add(c.config.Timeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, c.address, c.config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", c.address, err)
	}
	conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// Run executes cmd, retrying up to three times on session failures.
func (c *Client) Run(ctx context.Context, cmd string) (Result, error) {
	return c.run(ctx, cmd, nil)
}

// ReadFile returns the contents of a remote file.
func (c *Client) ReadFile(ctx context.Context, path string) ([]byte, error) {
	result, err := c.run(ctx, "cat "+shellQuote(path), nil)
	if err != nil {
		return nil, err
	}
	if result.ExitStatus != 0 {
		return nil, fmt.Errorf("failed to read %s: exit status %d: %s",
			path, result.ExitStatus, strings.TrimSpace(result.Stderr))
	}
	return []byte(result.Stdout), nil
}

// WriteFile replaces the remote file with data.
func (c *Client) WriteFile(ctx context.Context, path string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	result, err := c.run(ctx, "cat > "+shellQuote(path), data)
	if err != nil {
		return err
	}
	if result.ExitStatus != 0 {
		return fmt.Errorf("failed to write %s: exit status %d: %s",
			path, result.ExitStatus, strings.TrimSpace(result.Stderr))
	}
	return nil
}

func (c *Client) run(ctx context.Context, cmd string, stdin []byte) (Result, error) {
	client, err := c.dial(ctx)
	if err != nil {
		return Result{}, err
	}
	defer client.Close()

	var lastErr error
	for attempt := 1; attempt <= runAttempts; attempt++ {
		result, err := runSession(ctx, client, cmd, stdin)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if IsDisconnect(err) {
			return result, err
		}

		lastErr = err
		c.logger.Warn("SSH command failed",
			zap.String("command", cmd),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	return Result{}, fmt.Errorf("command %q failed after %d attempts: %w", cmd, runAttempts, lastErr)
}

func runSession(ctx context.Context, client *ssh.Client, cmd string, stdin []byte) (Result, error) {
	session, err := client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = bytes.NewReader(stdin)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		session.Close()
		return Result{}, ctx.Err()
	case err = <-done:
	}

	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		result.ExitStatus = exitErr.ExitStatus()
		return result, nil
	}
	if err != nil {
		return result, err
	}
	return result, nil
}

// IsDisconnect reports whether err is the connection dropping mid-command,
// which is the expected outcome of a reboot.
func IsDisconnect(err error) bool {
	var missing *ssh.ExitMissingError
	return errors.As(err, &missing)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
