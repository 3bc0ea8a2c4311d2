// Package probe runs device health checks until they pass or their timeout
// budget is exhausted.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"time"

	"github.com/fgeck/gowake-homelab/internal/models"
	"github.com/fgeck/gowake-homelab/internal/services/ssh"
	"github.com/rs/zerolog"
)

// DefaultAttemptTimeout bounds a single probe attempt when the check sets none.
const DefaultAttemptTimeout = 10 * time.Second

// maxBodyBytes caps how much of an HTTP response body is matched against a pattern.
const maxBodyBytes = 1 << 20

// Service defines the interface for health-check operations.
type Service interface {
	Check(ctx context.Context, device string, checks []models.HealthCheckSpec) (*models.ProbeResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Dialer allows mocking TCP connection attempts.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// CommandExecutor allows mocking local subprocess execution.
type CommandExecutor interface {
	Execute(ctx context.Context, command string) (*models.CommandResult, error)
}

// DefaultExecutor runs commands through sh in a fresh subprocess.
type DefaultExecutor struct{}

// Execute runs command and captures its exit code and standard output.
func (e *DefaultExecutor) Execute(ctx context.Context, command string) (*models.CommandResult, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	// kill the whole process group so children of sh do not outlive the attempt
	killProcessGroup(cmd)
	cmd.WaitDelay = 100 * time.Millisecond

	err := cmd.Run()
	result := &models.CommandResult{ExitCode: -1, Stdout: stdout.String()}

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		result.Error = ctx.Err()
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		result.Error = fmt.Errorf("failed to run command: %w", err)
	}

	return result, nil
}

// Impl implements the probe Service interface.
type Impl struct {
	httpClient HTTPClient
	dialer     Dialer
	executor   CommandExecutor
	remote     ssh.Service
	logger     zerolog.Logger
}

// New creates a new probe service. Per-attempt timeouts are carried by the
// request context, so the HTTP client itself has none.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		httpClient: &http.Client{},
		dialer:     &net.Dialer{},
		executor:   &DefaultExecutor{},
		remote:     ssh.New(logger),
		logger:     logger,
	}
}

// NewWithClients creates a new probe service with custom clients (for testing).
func NewWithClients(
	logger zerolog.Logger,
	httpClient HTTPClient,
	dialer Dialer,
	executor CommandExecutor,
	remote ssh.Service,
) *Impl {
	return &Impl{
		httpClient: httpClient,
		dialer:     dialer,
		executor:   executor,
		remote:     remote,
		logger:     logger,
	}
}

// Check runs checks one after another; a check is only started once the
// previous one passed. An empty list is healthy immediately. The first check
// that times out ends the run with a *models.HealthCheckTimeoutError in the
// result.
func (s *Impl) Check(ctx context.Context, device string, checks []models.HealthCheckSpec) (*models.ProbeResult, error) {
	result := &models.ProbeResult{}
	start := time.Now()

	for i, c := range checks {
		attempts, err := s.run(ctx, device, i, c)
		result.Attempts += attempts
		if err != nil {
			result.Error = err
			result.Duration = time.Since(start)
			return result, nil
		}
	}

	result.Healthy = true
	result.Duration = time.Since(start)
	return result, nil
}

// retryState tracks the deadline and attempt count of one check.
type retryState struct {
	deadline time.Time
	attempts int
}

func newRetryState(now time.Time, timeout time.Duration) *retryState {
	return &retryState{deadline: now.Add(timeout)}
}

func (r *retryState) expired(now time.Time) bool {
	return !now.Before(r.deadline)
}

// attemptTimeout is the configured per-attempt bound, clipped to the deadline.
func (r *retryState) attemptTimeout(now time.Time, configured time.Duration) time.Duration {
	if configured <= 0 {
		configured = DefaultAttemptTimeout
	}
	if remaining := r.deadline.Sub(now); remaining < configured {
		return remaining
	}
	return configured
}

// untilNext is how long to sleep before the next attempt, clipped to the deadline.
func (r *retryState) untilNext(now time.Time, retry time.Duration) time.Duration {
	if remaining := r.deadline.Sub(now); remaining < retry {
		return remaining
	}
	return retry
}

func (s *Impl) run(ctx context.Context, device string, idx int, c models.HealthCheckSpec) (int, error) {
	log := s.logger.With().
		Str("device", device).
		Int("check", idx).
		Str("kind", string(c.Kind)).
		Str("target", c.Target()).
		Logger()

	state := newRetryState(time.Now(), c.Timeout)
	var lastDetail string

	log.Debug().Dur("timeout", c.Timeout).Dur("retry", c.Retry).Msg("starting health check")

	for {
		if err := ctx.Err(); err != nil {
			return state.attempts, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, state.attemptTimeout(time.Now(), c.AttemptTimeout))
		res := s.Attempt(attemptCtx, c)
		cancel()
		state.attempts++

		if res.OK {
			log.Debug().Int("attempts", state.attempts).Msg("health check passed")
			return state.attempts, nil
		}
		lastDetail = res.Detail
		log.Debug().Int("attempt", state.attempts).Str("detail", res.Detail).Msg("health check attempt failed")

		now := time.Now()
		if !state.expired(now) {
			timer := time.NewTimer(state.untilNext(now, c.Retry))
			select {
			case <-ctx.Done():
				timer.Stop()
				return state.attempts, ctx.Err()
			case <-timer.C:
			}
		}

		if state.expired(time.Now()) {
			return state.attempts, &models.HealthCheckTimeoutError{
				Device:     device,
				Check:      fmt.Sprintf("#%d (%s %s)", idx, c.Kind, c.Target()),
				Timeout:    c.Timeout,
				Attempts:   state.attempts,
				LastDetail: lastDetail,
			}
		}
	}
}

// Attempt executes exactly one probe attempt for c. Transport failures are
// reported as a failed attempt, never as an error.
func (s *Impl) Attempt(ctx context.Context, c models.HealthCheckSpec) models.AttemptResult {
	switch c.Kind {
	case models.CheckHTTP:
		if c.HTTP != nil {
			return s.attemptHTTP(ctx, c.HTTP)
		}
	case models.CheckPort:
		if c.Port != nil {
			return s.attemptPort(ctx, c.Port)
		}
	case models.CheckShell:
		if c.Shell != nil {
			return s.attemptShell(ctx, c.Shell)
		}
	}
	return models.AttemptResult{Detail: fmt.Sprintf("unsupported check kind %q", c.Kind)}
}

func (s *Impl) attemptHTTP(ctx context.Context, c *models.HTTPCheck) models.AttemptResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return models.AttemptResult{Detail: fmt.Sprintf("failed to create request: %v", err)}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return models.AttemptResult{Detail: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if c.ExpectedStatus != nil && resp.StatusCode != *c.ExpectedStatus {
		return models.AttemptResult{Detail: fmt.Sprintf("status %d, want %d", resp.StatusCode, *c.ExpectedStatus)}
	}

	if c.Pattern != nil {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return models.AttemptResult{Detail: fmt.Sprintf("failed to read body: %v", err)}
		}
		if !c.Pattern.Match(body) {
			return models.AttemptResult{Detail: fmt.Sprintf("body does not match %q", c.Pattern.String())}
		}
	}

	return models.AttemptResult{OK: true, Detail: fmt.Sprintf("status %d", resp.StatusCode)}
}

func (s *Impl) attemptPort(ctx context.Context, c *models.PortCheck) models.AttemptResult {
	addr := net.JoinHostPort(c.IP.String(), strconv.Itoa(c.Port))

	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return models.AttemptResult{Detail: err.Error()}
	}
	_ = conn.Close()

	return models.AttemptResult{OK: true, Detail: "connected to " + addr}
}

func (s *Impl) attemptShell(ctx context.Context, c *models.ShellCheck) models.AttemptResult {
	var (
		res *models.CommandResult
		err error
	)
	if c.SSH != nil {
		res, err = s.remote.Run(ctx, *c.SSH, c.Command)
	} else {
		res, err = s.executor.Execute(ctx, c.Command)
	}
	if err != nil {
		return models.AttemptResult{Detail: err.Error()}
	}
	if res.Error != nil {
		return models.AttemptResult{Detail: res.Error.Error()}
	}

	if c.ExpectedExit != nil && res.ExitCode != *c.ExpectedExit {
		return models.AttemptResult{Detail: fmt.Sprintf("exit code %d, want %d", res.ExitCode, *c.ExpectedExit)}
	}
	if c.Pattern != nil && !c.Pattern.MatchString(res.Stdout) {
		return models.AttemptResult{Detail: fmt.Sprintf("output does not match %q", c.Pattern.String())}
	}

	return models.AttemptResult{OK: true, Detail: fmt.Sprintf("exit code %d", res.ExitCode)}
}
