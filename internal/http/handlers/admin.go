package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/schedule-notify/internal/calendar"
	"github.com/wolfman30/schedule-notify/internal/delivery"
	"github.com/wolfman30/schedule-notify/internal/extract"
	"github.com/wolfman30/schedule-notify/internal/http/middleware"
	"github.com/wolfman30/schedule-notify/internal/settings"
	"github.com/wolfman30/schedule-notify/pkg/logging"
)

// ExtractLister lists ledger rows of a setting.
type ExtractLister interface {
	ListBySetting(ctx context.Context, settingID uuid.UUID, limit int) ([]extract.ExtractResume, error)
}

// ExtractEvaluator runs the strategy engine.
type ExtractEvaluator interface {
	RunNextExtract(ctx context.Context, req extract.Request) (extract.Outcome, error)
}

// SettingReader loads one schedule setting.
type SettingReader interface {
	Get(ctx context.Context, id uuid.UUID) (*settings.ScheduleSetting, error)
}

// Resender re-sends a message parked on an open conversation.
type Resender interface {
	ResendOpenConversation(ctx context.Context, id uuid.UUID) error
}

// AdminConfig wires AdminHandler.
type AdminConfig struct {
	Extracts ExtractLister
	Engine   ExtractEvaluator
	Settings SettingReader
	Messages Resender
	Location *time.Location
	Logger   *logging.Logger
}

// AdminHandler serves the operator endpoints.
type AdminHandler struct {
	extracts ExtractLister
	engine   ExtractEvaluator
	settings SettingReader
	messages Resender
	loc      *time.Location
	logger   *logging.Logger
}

func NewAdminHandler(cfg AdminConfig) *AdminHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &AdminHandler{
		extracts: cfg.Extracts,
		engine:   cfg.Engine,
		settings: cfg.Settings,
		messages: cfg.Messages,
		loc:      cfg.Location,
		logger:   cfg.Logger,
	}
}

// ListExtracts handles GET /admin/settings/{settingID}/extracts.
func (h *AdminHandler) ListExtracts(w http.ResponseWriter, r *http.Request) {
	settingID, err := uuid.Parse(chi.URLParam(r, "settingID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid setting id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.extracts.ListBySetting(r.Context(), settingID, limit)
	if err != nil {
		h.logger.Error("admin: list extracts failed", "error", err, "setting_id", settingID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"extracts": list})
}

type manualExtractRequest struct {
	SendType  settings.SendType `json:"sendType"`
	StartDate time.Time         `json:"startDate"`
	EndDate   time.Time         `json:"endDate"`
}

// RunManualExtract handles POST /admin/settings/{settingID}/extracts/manual.
func (h *AdminHandler) RunManualExtract(w http.ResponseWriter, r *http.Request) {
	settingID, err := uuid.Parse(chi.URLParam(r, "settingID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid setting id")
		return
	}
	var req manualExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	setting, err := h.settings.Get(r.Context(), settingID)
	if errors.Is(err, settings.ErrSettingNotFound) {
		writeError(w, http.StatusNotFound, "setting not found")
		return
	}
	if err != nil {
		h.logger.Error("admin: load setting failed", "error", err, "setting_id", settingID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var ts *settings.TypeSetting
	for i := range setting.TypeSettings {
		if setting.TypeSettings[i].SendType == req.SendType {
			ts = &setting.TypeSettings[i]
			break
		}
	}
	if ts == nil {
		writeError(w, http.StatusBadRequest, "send type not configured for setting")
		return
	}

	outcome, err := h.engine.RunNextExtract(r.Context(), extract.Request{
		Setting:      *setting,
		TypeSetting:  *ts,
		RuleOverride: settings.RuleManual,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
	})
	if err != nil {
		h.logger.Error("admin: manual extract failed", "error", err, "setting_id", settingID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	operator, _ := middleware.OperatorFromContext(r.Context())
	h.logger.Info("admin: manual extract requested",
		"operator", operator,
		"setting_id", settingID,
		"send_type", req.SendType,
		"omitted", outcome.Omitted,
	)
	if outcome.Omitted {
		writeJSON(w, http.StatusOK, map[string]any{"omitted": true, "reason": outcome.Reason})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"omitted": false, "extract": outcome.Extract})
}

// ResendMessage handles POST /admin/messages/{uuid}/resend.
func (h *AdminHandler) ResendMessage(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message uuid")
		return
	}
	err = h.messages.ResendOpenConversation(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "resent"})
	case errors.Is(err, delivery.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, delivery.ErrScheduleInPast), errors.Is(err, delivery.ErrResendDisabled):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("admin: resend failed", "error", err, "message_uuid", id)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// CalendarDay handles GET /admin/calendar/{date}.
func (h *AdminHandler) CalendarDay(w http.ResponseWriter, r *http.Request) {
	day, err := time.ParseInLocation("2006-01-02", chi.URLParam(r, "date"), h.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	start, end := calendar.NextNonHolidayRange(day)
	writeJSON(w, http.StatusOK, map[string]any{
		"date":             day.Format("2006-01-02"),
		"weekday":          day.Weekday().String(),
		"weekendOrHoliday": calendar.IsWeekendOrHoliday(day),
		"holiday":          calendar.HolidayName(day),
		"nextRangeStart":   start,
		"nextRangeEnd":     end,
	})
}
