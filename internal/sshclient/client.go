package sshclient

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	apperrors "flightplan/internal/errors"
	"flightplan/internal/types"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config describes how to reach and authenticate to one host.
type Config struct {
	Host           string
	Port           string
	User           string
	Password       string
	PrivateKey     []byte // PEM encoded
	AuthMode       types.AuthMode
	ConnectTimeout time.Duration
	KnownHostsFile string // empty accepts any host key
}

// Client is an SSH connection to one host. It is safe to Close more than once.
type Client struct {
	cfg    Config
	config *ssh.ClientConfig

	mu     sync.Mutex
	client *ssh.Client
	sftp   *sftp.Client
	closed bool
}

// NewClient validates credentials and builds the SSH configuration without
// opening a connection. Password auth is tried first when configured.
func NewClient(cfg Config) (*Client, error) {
	var authMethods []ssh.AuthMethod

	if cfg.Password != "" && cfg.AuthMode != types.AuthKey {
		authMethods = append(authMethods, ssh.Password(cfg.Password))
	}
	if len(cfg.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(cfg.PrivateKey)
		if err != nil {
			if len(authMethods) == 0 {
				return nil, fmt.Errorf("unable to parse private key: %v", err)
			}
		} else {
			authMethods = append(authMethods, ssh.PublicKeys(signer))
		}
	}
	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no authentication method configured (provide password or private key)")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %v", err)
		}
		hostKeyCallback = cb
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if cfg.Port == "" {
		cfg.Port = "22"
	}

	return &Client{
		cfg: cfg,
		config: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            authMethods,
			HostKeyCallback: hostKeyCallback,
			Timeout:         timeout,
		},
	}, nil
}

func (c *Client) addr() string {
	return net.JoinHostPort(c.cfg.Host, c.cfg.Port)
}

// Connect dials the host. Failures are CONNECTION_ERRORs.
func (c *Client) Connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr())
	if err != nil {
		return apperrors.ConnectionError(c.cfg.Host, err)
	}
	return c.handshake(conn)
}

func (c *Client) handshake(conn net.Conn) error {
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, c.addr(), c.config)
	if err != nil {
		conn.Close()
		return apperrors.ConnectionError(c.cfg.Host, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = ssh.NewClient(sshConn, chans, reqs)
	c.closed = false
	return nil
}

// Close closes the SFTP and SSH connections. Calling it on a client that
// never connected, or more than once, is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.sftp != nil {
		if err := c.sftp.Close(); err != nil {
			errs = append(errs, err)
		}
		c.sftp = nil
	}
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			errs = append(errs, err)
		}
		c.client = nil
	}
	return stderrors.Join(errs...)
}

func (c *Client) sshClient() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, fmt.Errorf("SSH client not connected")
	}
	return c.client, nil
}

// Run executes cmd in a new session and returns its exit status and output.
// A non-zero exit is reported through status, not err.
func (c *Client) Run(ctx context.Context, cmd string, stdin string) (int, string, string, error) {
	client, err := c.sshClient()
	if err != nil {
		return 0, "", "", err
	}
	session, err := client.NewSession()
	if err != nil {
		return 0, "", "", fmt.Errorf("failed to create session: %v", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != "" {
		session.Stdin = strings.NewReader(stdin)
	}

	if err := session.Start(cmd); err != nil {
		return 0, "", "", fmt.Errorf("failed to start command: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		session.Close()
		return 0, "", "", ctx.Err()
	case err := <-done:
		if err == nil {
			return 0, stdout.String(), stderr.String(), nil
		}
		var exitErr *ssh.ExitError
		if stderrors.As(err, &exitErr) {
			return exitErr.ExitStatus(), stdout.String(), stderr.String(), nil
		}
		return 0, stdout.String(), stderr.String(), fmt.Errorf("command failed: %v", err)
	}
}
