package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/wolfman30/schedule-notify/internal/http/middleware"
	"github.com/wolfman30/schedule-notify/internal/inbound"
	"github.com/wolfman30/schedule-notify/pkg/logging"
)

// ActiveScheduleSubmitter validates and queues one inbound schedule.
type ActiveScheduleSubmitter interface {
	Submit(ctx context.Context, apiKey string, body []byte) (*inbound.ActiveScheduleJob, error)
	MaxBytes() int
}

// ActiveSchedulesHandler accepts schedules pushed by integrations.
type ActiveSchedulesHandler struct {
	svc    ActiveScheduleSubmitter
	logger *logging.Logger
}

func NewActiveSchedulesHandler(svc ActiveScheduleSubmitter, logger *logging.Logger) *ActiveSchedulesHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ActiveSchedulesHandler{svc: svc, logger: logger}
}

// Submit handles POST /api/v1/active-schedules.
func (h *ActiveSchedulesHandler) Submit(w http.ResponseWriter, r *http.Request) {
	apiKey := middleware.APIKeyFromContext(r.Context())
	if apiKey == "" {
		apiKey = r.Header.Get(middleware.APIKeyHeader)
	}

	// One byte past the limit is enough for the service to reject the body.
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(h.svc.MaxBytes())+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read body")
		return
	}

	job, err := h.svc.Submit(r.Context(), apiKey, body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":       "queued",
			"scheduleCode": job.Record.Schedule.ScheduleCode,
			"sendType":     job.TypeSetting.SendType,
		})
	case errors.Is(err, inbound.ErrPayloadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, inbound.ErrNoActiveSetting):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, inbound.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, inbound.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("active schedules: submit failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
