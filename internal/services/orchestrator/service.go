// Package orchestrator wakes devices in dependency order and verifies their
// health, propagating failures to everything that depends on them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fgeck/gowake-homelab/internal/events"
	"github.com/fgeck/gowake-homelab/internal/graph"
	"github.com/fgeck/gowake-homelab/internal/models"
	"github.com/fgeck/gowake-homelab/internal/services/probe"
	"github.com/fgeck/gowake-homelab/internal/services/wol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Service defines the interface for the wake orchestrator.
type Service interface {
	Run(ctx context.Context, g *graph.Graph) (*models.RunResult, error)
}

// Impl implements the orchestrator Service interface.
type Impl struct {
	wolSvc    wol.Service
	probeSvc  probe.Service
	publisher events.Publisher
	logger    zerolog.Logger
	newRunID  func() string
	now       func() time.Time
}

// New creates a new orchestrator publishing transitions to publisher.
func New(logger zerolog.Logger, publisher events.Publisher) *Impl {
	return NewWithServices(logger, wol.New(logger), probe.New(logger), publisher)
}

// NewWithServices creates a new orchestrator with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	wolSvc wol.Service,
	probeSvc probe.Service,
	publisher events.Publisher,
) *Impl {
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Impl{
		wolSvc:    wolSvc,
		probeSvc:  probeSvc,
		publisher: publisher,
		logger:    logger,
		newRunID:  uuid.NewString,
		now:       time.Now,
	}
}

// entry is the status of one device. It is written only by the device's own
// task and read by the tasks of its dependents.
type entry struct {
	mu     sync.RWMutex
	status models.DeviceStatus
	err    error

	// done is closed once the device reached a terminal status.
	done chan struct{}

	// ctx is cancelled with a *models.BlockedError when an ancestor fails.
	ctx    context.Context
	cancel context.CancelCauseFunc
}

func (e *entry) get() (models.DeviceStatus, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status, e.err
}

// run holds the state of a single Run call.
type run struct {
	*Impl
	id     string
	graph  *graph.Graph
	table  map[string]*entry
	logger zerolog.Logger

	mu        sync.Mutex
	wakeOrder []string
}

// Run wakes every device of g. A device is dispatched the moment all of its
// direct dependencies are observed Healthy; devices without dependencies start
// immediately. A failure blocks only the failing device's descendants, so
// unrelated branches always run to completion. The returned error is reserved
// for invalid input; device failures are reported in the result.
func (s *Impl) Run(ctx context.Context, g *graph.Graph) (*models.RunResult, error) {
	if g == nil {
		return nil, errors.New("dependency graph is nil")
	}

	r := &run{
		Impl:  s,
		id:    s.newRunID(),
		graph: g,
		table: make(map[string]*entry, g.Len()),
	}
	r.logger = s.logger.With().Str("run_id", r.id).Logger()

	for _, name := range g.Names() {
		devCtx, cancel := context.WithCancelCause(ctx)
		r.table[name] = &entry{
			status: models.StatusPending,
			done:   make(chan struct{}),
			ctx:    devCtx,
			cancel: cancel,
		}
	}

	start := s.now()
	r.logger.Info().
		Int("devices", g.Len()).
		Strs("roots", g.Roots()).
		Msg("starting wake run")

	var group errgroup.Group
	for _, name := range g.Names() {
		name := name
		group.Go(func() error {
			r.device(name)
			return nil
		})
	}
	_ = group.Wait()

	result := &models.RunResult{
		RunID:     r.id,
		StartTime: start,
		Duration:  s.now().Sub(start),
		Statuses:  make(map[string]models.DeviceStatus, g.Len()),
		Errors:    make(map[string]error),
		WakeOrder: r.wakeOrder,
		Success:   true,
	}
	for name, e := range r.table {
		status, err := e.get()
		result.Statuses[name] = status
		if err != nil {
			result.Errors[name] = err
		}
		if status != models.StatusHealthy {
			result.Success = false
		}
	}

	r.logger.Info().
		Bool("success", result.Success).
		Int("healthy", result.Count(models.StatusHealthy)).
		Int("failed", result.Count(models.StatusFailed)).
		Int("blocked", result.Count(models.StatusBlocked)).
		Dur("duration", result.Duration).
		Msg("wake run finished")

	return result, nil
}

// device is the task owning one device's state machine.
func (r *run) device(name string) {
	e := r.table[name]
	defer e.cancel(nil)

	if !r.awaitDependencies(name, e) {
		return
	}

	spec, _ := r.graph.Device(name)

	r.transition(name, models.StatusWaking, nil)
	r.mu.Lock()
	r.wakeOrder = append(r.wakeOrder, name)
	r.mu.Unlock()

	wakeResult, err := r.wolSvc.Wake(e.ctx, spec)
	if err == nil && wakeResult.Error != nil {
		err = wakeResult.Error
	}
	if err != nil {
		r.fail(name, err)
		return
	}

	r.transition(name, models.StatusCheckingHealth, nil)

	probeResult, err := r.probeSvc.Check(e.ctx, name, spec.Checks)
	if err == nil && probeResult.Error != nil {
		err = probeResult.Error
	}
	if err == nil && !probeResult.Healthy {
		err = fmt.Errorf("health checks for %s did not pass", name)
	}
	if err != nil {
		r.fail(name, err)
		return
	}

	r.transition(name, models.StatusHealthy, nil)
}

// awaitDependencies blocks until every direct dependency is Healthy and
// reports true, or marks the device Blocked and reports false as soon as one
// of them can no longer become Healthy.
func (r *run) awaitDependencies(name string, e *entry) bool {
	for _, dep := range r.graph.Dependencies(name) {
		d := r.table[dep]
		select {
		case <-d.done:
			status, err := d.get()
			if status != models.StatusHealthy {
				by := dep
				var blocked *models.BlockedError
				if errors.As(err, &blocked) {
					by = blocked.By
				}
				r.transition(name, models.StatusBlocked, &models.BlockedError{Device: name, By: by})
				return false
			}
		case <-e.ctx.Done():
			r.transition(name, models.StatusBlocked, blockedCause(name, e.ctx))
			return false
		}
	}

	if e.ctx.Err() != nil {
		r.transition(name, models.StatusBlocked, blockedCause(name, e.ctx))
		return false
	}
	return true
}

func blockedCause(name string, ctx context.Context) error {
	cause := context.Cause(ctx)
	var blocked *models.BlockedError
	if errors.As(cause, &blocked) {
		return blocked
	}
	return fmt.Errorf("%s not woken: %w", name, cause)
}

// fail marks name Failed and blocks its whole subtree at once, so descendants
// still waiting on other, unrelated dependencies stop immediately.
func (r *run) fail(name string, err error) {
	r.transition(name, models.StatusFailed, err)
	for _, d := range r.graph.Descendants(name) {
		r.table[d].cancel(&models.BlockedError{Device: d, By: name})
	}
}

// transition moves name to the next status. Backward or repeated transitions
// are ignored. The event is published before dependents can observe a
// terminal status.
func (r *run) transition(name string, to models.DeviceStatus, err error) {
	e := r.table[name]

	e.mu.Lock()
	from := e.status
	if !from.CanTransition(to) {
		e.mu.Unlock()
		r.logger.Error().
			Str("device", name).
			Stringer("from", from).
			Stringer("to", to).
			Msg("ignoring invalid status transition")
		return
	}
	e.status = to
	e.err = err
	e.mu.Unlock()

	r.publisher.Publish(models.Event{
		RunID:  r.id,
		Time:   r.now(),
		Device: name,
		From:   from,
		To:     to,
		Err:    err,
	})

	var ev *zerolog.Event
	switch to {
	case models.StatusFailed:
		ev = r.logger.Error().Err(err)
	case models.StatusBlocked:
		ev = r.logger.Warn().Err(err)
	default:
		ev = r.logger.Info()
	}
	ev.Str("device", name).Stringer("from", from).Stringer("to", to).Msg("device status changed")

	if to.Terminal() {
		close(e.done)
	}
}
