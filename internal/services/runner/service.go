// Package runner ties a loaded configuration to one complete wake run.
package runner

import (
	"context"
	"fmt"

	"github.com/fgeck/gowake-homelab/internal/events"
	"github.com/fgeck/gowake-homelab/internal/graph"
	"github.com/fgeck/gowake-homelab/internal/models"
	"github.com/fgeck/gowake-homelab/internal/services/history"
	"github.com/fgeck/gowake-homelab/internal/services/orchestrator"
	"github.com/fgeck/gowake-homelab/internal/services/telegram"
	"github.com/rs/zerolog"
)

// Service defines the interface for the wake runner.
type Service interface {
	Run(ctx context.Context, cfg models.Config) (*models.RunResult, error)
}

// OrchestratorFactory creates an orchestrator publishing to the run's event bus.
type OrchestratorFactory func(publisher events.Publisher) orchestrator.Service

// HistoryOpener opens the run history database at path.
type HistoryOpener func(path string) (history.Service, error)

// Impl implements the runner Service interface.
type Impl struct {
	newOrchestrator OrchestratorFactory
	openHistory     HistoryOpener
	telegramSvc     telegram.Service
	observers       []func(<-chan models.Event)
	logger          zerolog.Logger
}

// New creates a new runner service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		newOrchestrator: func(publisher events.Publisher) orchestrator.Service {
			return orchestrator.New(logger, publisher)
		},
		openHistory: func(path string) (history.Service, error) {
			return history.Open(path, logger)
		},
		telegramSvc: telegram.New(logger),
		logger:      logger,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	newOrchestrator OrchestratorFactory,
	openHistory HistoryOpener,
	telegramSvc telegram.Service,
) *Impl {
	return &Impl{
		newOrchestrator: newOrchestrator,
		openHistory:     openHistory,
		telegramSvc:     telegramSvc,
		logger:          logger,
	}
}

// Observe registers fn to receive every event of subsequent runs. fn runs in
// its own goroutine and must consume the channel until it is closed.
func (s *Impl) Observe(fn func(<-chan models.Event)) {
	s.observers = append(s.observers, fn)
}

// Run validates the device list and wakes it. Configuration errors are
// returned before anything is sent; device failures are reported in the
// result. History and notifications are best effort.
func (s *Impl) Run(ctx context.Context, cfg models.Config) (*models.RunResult, error) {
	g, err := graph.Build(cfg.Devices)
	if err != nil {
		return nil, fmt.Errorf("invalid device configuration: %w", err)
	}

	s.logger.Info().
		Int("devices", g.Len()).
		Strs("wake_order", g.WakeOrder()).
		Msg("starting wake run")

	bus := events.NewBus()
	var observed []chan struct{}
	for _, fn := range s.observers {
		fn := fn
		done := make(chan struct{})
		observed = append(observed, done)
		ch := bus.Subscribe()
		go func() {
			defer close(done)
			fn(ch)
		}()
	}

	var (
		store    history.Service
		recorder *history.Recorder
	)
	if cfg.History != nil {
		store, err = s.openHistory(cfg.History.Path)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", cfg.History.Path).Msg("run history disabled")
			store = nil
		} else {
			defer func() { _ = store.Close() }()
			recorder = history.NewRecorder(store, s.logger)
			recorder.Start(bus.Subscribe())
		}
	}

	result, err := s.newOrchestrator(bus).Run(ctx, g)
	bus.Close()
	for _, done := range observed {
		<-done
	}
	// the store is closed on return, so drain the recorder on every path
	if recorder != nil {
		recorder.Wait()
	}
	if err != nil {
		return nil, fmt.Errorf("wake run failed: %w", err)
	}

	// an interrupted run is still worth recording and reporting
	detached := context.WithoutCancel(ctx)

	if recorder != nil {
		if err := store.RecordRun(detached, result); err != nil {
			s.logger.Warn().Err(err).Msg("failed to record run")
		}
	}

	if cfg.Telegram != nil {
		s.sendNotification(detached, *cfg.Telegram, telegram.NewMessage(result, g.Names()))
	}

	return result, nil
}

func (s *Impl) sendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) {
	result, err := s.telegramSvc.SendNotification(ctx, cfg, msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if result.Error != nil {
		s.logger.Error().Err(result.Error).Msg("failed to send Telegram notification")
		return
	}

	s.logger.Info().Msg("Telegram notification sent")
}
