// Package ssh runs health-check commands on remote hosts.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/fgeck/gowake-homelab/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Service defines the interface for SSH operations.
type Service interface {
	Run(ctx context.Context, target models.SSHTarget, command string) (*models.CommandResult, error)
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	Output(cmd string) ([]byte, error)
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// NewClient creates a new SSH client.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &defaultSSHClient{client: client}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return &defaultSSHSession{session: session}, nil
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

type defaultSSHSession struct {
	session *ssh.Session
}

func (s *defaultSSHSession) Output(cmd string) ([]byte, error) {
	return s.session.Output(cmd)
}

func (s *defaultSSHSession) Close() error {
	return s.session.Close()
}

// Impl implements the SSH Service interface.
type Impl struct {
	clientFactory ClientFactory
	logger        zerolog.Logger
	dialTimeout   time.Duration
}

// New creates a new SSH service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		clientFactory: &DefaultClientFactory{},
		logger:        logger,
		dialTimeout:   10 * time.Second,
	}
}

// NewWithClientFactory creates a new SSH service with a custom client factory (for testing).
func NewWithClientFactory(logger zerolog.Logger, factory ClientFactory) *Impl {
	return &Impl{
		clientFactory: factory,
		logger:        logger,
		dialTimeout:   10 * time.Second,
	}
}

func (s *Impl) buildConfig(target models.SSHTarget, timeout time.Duration) (*ssh.ClientConfig, error) {
	var key []byte
	var err error

	switch {
	case len(target.PrivateKey) > 0:
		key = target.PrivateKey
	case target.KeyPath != "":
		key, err = os.ReadFile(target.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key from %s: %w", target.KeyPath, err)
		}
	default:
		return nil, fmt.Errorf("no private key provided")
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &ssh.ClientConfig{
		User: target.Username,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // homelab environment
		Timeout:         timeout,
	}, nil
}

// Run executes command on target and captures its exit code and stdout. A
// non-zero exit is reported through ExitCode, not as an error; Error is set only
// when the command could not be run at all.
func (s *Impl) Run(ctx context.Context, target models.SSHTarget, command string) (*models.CommandResult, error) {
	result := &models.CommandResult{ExitCode: -1}

	timeout := s.dialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	sshConfig, err := s.buildConfig(target, timeout)
	if err != nil {
		result.Error = err
		return result, nil
	}

	port := target.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(target.Host, strconv.Itoa(port))

	// Create client with context timeout
	clientChan := make(chan struct {
		client SSHClient
		err    error
	}, 1)

	go func() {
		client, err := s.clientFactory.NewClient("tcp", addr, sshConfig)
		clientChan <- struct {
			client SSHClient
			err    error
		}{client, err}
	}()

	var client SSHClient
	select {
	case <-ctx.Done():
		result.Error = ctx.Err()
		return result, nil
	case res := <-clientChan:
		if res.err != nil {
			result.Error = fmt.Errorf("failed to connect: %w", res.err)
			return result, nil
		}
		client = res.client
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		result.Error = fmt.Errorf("failed to create session: %w", err)
		return result, nil
	}
	defer session.Close()

	s.logger.Debug().Str("host", target.Host).Str("command", command).Msg("executing remote command")

	outChan := make(chan struct {
		out []byte
		err error
	}, 1)

	go func() {
		out, err := session.Output(command)
		outChan <- struct {
			out []byte
			err error
		}{out, err}
	}()

	select {
	case <-ctx.Done():
		// closing the client unblocks the pending Output call
		_ = client.Close()
		result.Error = ctx.Err()
		return result, nil
	case res := <-outChan:
		result.Stdout = string(res.out)
		var exitErr *ssh.ExitError
		switch {
		case res.err == nil:
			result.ExitCode = 0
		case errors.As(res.err, &exitErr):
			result.ExitCode = exitErr.ExitStatus()
		default:
			result.Error = fmt.Errorf("remote command failed: %w", res.err)
		}
	}

	return result, nil
}
