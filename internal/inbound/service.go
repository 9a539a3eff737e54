// Package inbound accepts one-off schedules submitted by integrations through
// their API key and queues them for message creation.
package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/schedule-notify/internal/integration"
	"github.com/wolfman30/schedule-notify/internal/observability/metrics"
	"github.com/wolfman30/schedule-notify/internal/settings"
	"github.com/wolfman30/schedule-notify/pkg/logging"
)

const DefaultMaxBytes = 256 * 1024

var (
	ErrNoActiveSetting = errors.New("inbound: no active setting for api key")
	ErrRateLimited     = errors.New("inbound: rate limit exceeded")
	ErrPayloadTooLarge = errors.New("inbound: payload exceeds size limit")
	ErrInvalidPayload  = errors.New("inbound: invalid payload")
)

// ActiveScheduleRequest is the body accepted from integrations.
type ActiveScheduleRequest struct {
	SendType settings.SendType        `json:"sendType"`
	Contact  integration.Contact      `json:"contact"`
	Schedule integration.ScheduleData `json:"schedule"`
}

// ActiveScheduleJob is the queued unit consumed by the schedule worker.
type ActiveScheduleJob struct {
	ScheduleSetting settings.ScheduleSetting `json:"scheduleSetting"`
	TypeSetting     settings.TypeSetting     `json:"typeSetting"`
	Record          integration.Record       `json:"record"`
	ReceivedAt      time.Time                `json:"receivedAt"`
}

// DecodeJob parses a queued active schedule.
func DecodeJob(body string) (ActiveScheduleJob, error) {
	var job ActiveScheduleJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return ActiveScheduleJob{}, fmt.Errorf("inbound: decode job: %w", err)
	}
	return job, nil
}

// SettingLookup resolves the setting owning an API key.
type SettingLookup interface {
	FindActiveByAPIKey(ctx context.Context, apiKey string) (*settings.ScheduleSetting, error)
}

// Publisher queues jobs.
type Publisher interface {
	Publish(ctx context.Context, v any) error
}

// Service validates and queues active schedules.
type Service struct {
	settings  SettingLookup
	limiter   *Limiter
	publisher Publisher
	maxBytes  int
	metrics   *metrics.SchedulingMetrics
	logger    *logging.Logger
	now       func() time.Time
}

// NewService builds the inbound service.
func NewService(lookup SettingLookup, limiter *Limiter, publisher Publisher, maxBytes int, m *metrics.SchedulingMetrics, logger *logging.Logger) *Service {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		settings:  lookup,
		limiter:   limiter,
		publisher: publisher,
		maxBytes:  maxBytes,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// MaxBytes is the largest accepted body.
func (s *Service) MaxBytes() int {
	return s.maxBytes
}

// Submit checks size, resolves the setting, applies the rate limit and queues
// the schedule. Rejections are returned as the package sentinel errors.
func (s *Service) Submit(ctx context.Context, apiKey string, body []byte) (*ActiveScheduleJob, error) {
	if len(body) > s.maxBytes {
		s.metrics.ObserveInboundRejected("too_large")
		return nil, ErrPayloadTooLarge
	}

	setting, err := s.settings.FindActiveByAPIKey(ctx, apiKey)
	if errors.Is(err, settings.ErrSettingNotFound) {
		s.metrics.ObserveInboundRejected("no_setting")
		return nil, ErrNoActiveSetting
	}
	if err != nil {
		return nil, fmt.Errorf("inbound: lookup setting: %w", err)
	}

	if err := s.limiter.Allow(ctx, apiKey); err != nil {
		return nil, err
	}

	var req ActiveScheduleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.metrics.ObserveInboundRejected("invalid")
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	ts, err := validate(req, setting)
	if err != nil {
		s.metrics.ObserveInboundRejected("invalid")
		return nil, err
	}

	job := &ActiveScheduleJob{
		ScheduleSetting: *setting,
		TypeSetting:     *ts,
		Record:          integration.Record{Contact: req.Contact, Schedule: req.Schedule},
		ReceivedAt:      s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, job); err != nil {
		return nil, fmt.Errorf("inbound: publish: %w", err)
	}
	s.logger.Info("inbound: active schedule queued",
		"setting_id", setting.ID,
		"workspace_id", setting.WorkspaceID,
		"schedule_code", req.Schedule.ScheduleCode,
	)
	return job, nil
}

func validate(req ActiveScheduleRequest, setting *settings.ScheduleSetting) (*settings.TypeSetting, error) {
	if strings.TrimSpace(req.Schedule.ScheduleCode) == "" {
		return nil, fmt.Errorf("%w: schedule.scheduleCode is required", ErrInvalidPayload)
	}
	if req.Schedule.ScheduleDate.IsZero() {
		return nil, fmt.Errorf("%w: schedule.scheduleDate is required", ErrInvalidPayload)
	}
	if req.SendType == "" {
		return nil, fmt.Errorf("%w: sendType is required", ErrInvalidPayload)
	}
	for _, ts := range setting.ActiveTypeSettings() {
		if ts.SendType == req.SendType {
			return &ts, nil
		}
	}
	return nil, fmt.Errorf("%w: send type %s is not active", ErrInvalidPayload, req.SendType)
}
