package handlers

import (
	"context"
	"log/slog"

	"github.com/anipush/anipush/internal/event"
	"github.com/anipush/anipush/internal/events"
)

// Runner executes one pipeline pass for a source.
type Runner interface {
	Run(ctx context.Context, src event.Source) error
}

// PushHandler consumes media.received events and triggers pipeline
// runs for the source that produced them.
type PushHandler struct {
	*BaseHandler
	runner Runner
}

// NewPushHandler creates a push handler.
func NewPushHandler(bus *events.Bus, runner Runner, logger *slog.Logger) *PushHandler {
	return &PushHandler{
		BaseHandler: NewBaseHandler(bus, logger),
		runner:      runner,
	}
}

// Name returns the handler name.
func (h *PushHandler) Name() string {
	return "push"
}

// Start begins processing events.
func (h *PushHandler) Start(ctx context.Context) error {
	received := h.Bus().Subscribe(events.EventTypeMediaReceived, 100)

	for {
		select {
		case e := <-received:
			if e == nil {
				return nil // Channel closed
			}
			h.handleMediaReceived(ctx, e)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *PushHandler) handleMediaReceived(ctx context.Context, e events.Event) {
	src := event.Source(e.EntityType())
	if !src.Valid() {
		h.Logger().Warn("ignoring event for unknown source", "source", e.EntityType())
		return
	}

	h.Logger().Info("processing media event",
		"source", src.String(),
		"row_id", e.EntityID())

	if err := h.runner.Run(ctx, src); err != nil {
		// A failed pass leaves the row unsent; the next event retries it.
		h.Logger().Error("pipeline run failed", "source", src.String(), "error", err)
	}
}
