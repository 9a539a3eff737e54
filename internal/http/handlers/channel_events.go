package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/wolfman30/schedule-notify/internal/delivery"
	"github.com/wolfman30/schedule-notify/internal/events"
	"github.com/wolfman30/schedule-notify/pkg/logging"
)

// EventApplier applies a channel event to the message state machine.
type EventApplier interface {
	HandleEvent(ctx context.Context, evt events.ChannelEvent, source string) error
}

// ChannelEventsHandler receives channel events pushed over HTTP instead of
// through the events queue.
type ChannelEventsHandler struct {
	applier EventApplier
	logger  *logging.Logger
}

func NewChannelEventsHandler(applier EventApplier, logger *logging.Logger) *ChannelEventsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ChannelEventsHandler{applier: applier, logger: logger}
}

// Receive handles POST /webhooks/channel/events.
func (h *ChannelEventsHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read body")
		return
	}
	evt, err := events.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = h.applier.HandleEvent(r.Context(), evt, "webhook")
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, delivery.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, events.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("channel events: apply failed", "error", err, "event_type", evt.Type, "message_uuid", evt.MessageUUID)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
