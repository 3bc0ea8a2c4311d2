package history

import (
	"context"

	"github.com/fgeck/gowake-homelab/internal/models"
	"github.com/rs/zerolog"
)

// Recorder persists every event received from a subscription.
type Recorder struct {
	store  Service
	logger zerolog.Logger
	done   chan struct{}
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store Service, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start consumes events until the channel is closed. Write failures are
// logged and never stop the run being recorded.
func (r *Recorder) Start(events <-chan models.Event) {
	go func() {
		defer close(r.done)
		for ev := range events {
			if err := r.store.RecordEvent(context.Background(), ev); err != nil {
				r.logger.Warn().Err(err).Str("device", ev.Device).Msg("failed to persist event")
			}
		}
	}()
}

// Wait blocks until the event channel was drained.
func (r *Recorder) Wait() {
	<-r.done
}
