package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/schedule-notify/pkg/logging"
)

var integrationTracer = otel.Tracer("schedule-notify.internal.integration")

const (
	defaultTimeout = 60 * time.Second
	dateLayout     = "2006-01-02T15:04:05Z07:00"
)

// Client wraps the scheduling-integration REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *logging.Logger
}

// NewClient constructs an integration client.
func NewClient(baseURL, token string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		logger:     logger,
	}
}

type listBody struct {
	StartDate     string          `json:"startDate"`
	EndDate       string          `json:"endDate,omitempty"`
	ErpParams     json.RawMessage `json:"erpParams,omitempty"`
	FixedParams   map[string]any  `json:"fixedParams,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	ShortLink     bool            `json:"shortLink,omitempty"`
}

// ListSchedulesToSend returns confirmation/reminder candidates for [start, end].
func (c *Client) ListSchedulesToSend(ctx context.Context, req ListRequest) ([]Record, error) {
	ctx, span := integrationTracer.Start(ctx, "integration.list_schedules_to_send")
	defer span.End()
	span.SetAttributes(attribute.String("integration.id", req.IntegrationID))

	body := listBody{
		StartDate:     req.StartDate.Format(dateLayout),
		EndDate:       req.EndDate.Format(dateLayout),
		ErpParams:     req.ErpParams,
		FixedParams:   req.FixedParams,
		CorrelationID: req.CorrelationID,
		ShortLink:     req.ShortLink,
	}
	var out []Record
	path := fmt.Sprintf("/integrations/%s/schedules-to-send", url.PathEscape(req.IntegrationID))
	if _, err := c.doJSON(ctx, http.MethodPost, path, body, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list schedules to send")
		return nil, fmt.Errorf("integration: list schedules to send: %w", err)
	}
	span.SetAttributes(attribute.Int("integration.records", len(out)))
	return out, nil
}

// ListScheduleNotifications returns notification candidates starting at req.StartDate.
func (c *Client) ListScheduleNotifications(ctx context.Context, req ListRequest) ([]Record, error) {
	ctx, span := integrationTracer.Start(ctx, "integration.list_schedule_notifications")
	defer span.End()
	span.SetAttributes(attribute.String("integration.id", req.IntegrationID))

	body := listBody{
		StartDate:   req.StartDate.Format(dateLayout),
		ErpParams:   req.ErpParams,
		FixedParams: req.FixedParams,
	}
	var out []Record
	path := fmt.Sprintf("/integrations/%s/schedule-notifications", url.PathEscape(req.IntegrationID))
	if _, err := c.doJSON(ctx, http.MethodPost, path, body, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list schedule notifications")
		return nil, fmt.Errorf("integration: list schedule notifications: %w", err)
	}
	return out, nil
}

// ConfirmAppointment pushes a patient confirmation.
func (c *Client) ConfirmAppointment(ctx context.Context, req ActionRequest) (Result, error) {
	return c.action(ctx, "confirm", req)
}

// CancelAppointment pushes a patient cancellation.
func (c *Client) CancelAppointment(ctx context.Context, req ActionRequest) (Result, error) {
	return c.action(ctx, "cancel", req)
}

// ValidateScheduleData checks whether the appointment still matches the ERP.
func (c *Client) ValidateScheduleData(ctx context.Context, req ActionRequest) (Result, error) {
	return c.action(ctx, "validate", req)
}

// action posts an appointment action. HTTP 409 means the ERP already holds the
// requested state and is reported as ok.
func (c *Client) action(ctx context.Context, name string, req ActionRequest) (Result, error) {
	ctx, span := integrationTracer.Start(ctx, "integration."+name)
	defer span.End()
	span.SetAttributes(
		attribute.String("integration.id", req.IntegrationID),
		attribute.String("schedule.code", req.Schedule.ScheduleCode),
	)

	var out Result
	path := fmt.Sprintf("/integrations/%s/schedules/%s", url.PathEscape(req.IntegrationID), name)
	status, err := c.doJSON(ctx, http.MethodPost, path, req, &out)
	if status == http.StatusConflict {
		c.logger.Info("integration action already applied", "action", name, "schedule_code", req.Schedule.ScheduleCode)
		return Result{OK: true, Status: status, Message: "already applied"}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name)
		return Result{Status: status}, fmt.Errorf("integration: %s appointment: %w", name, err)
	}
	out.Status = status
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) (int, error) {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(respBody)
		if len(msg) > 300 {
			msg = msg[:300]
		}
		c.logger.Warn("integration API non-2xx response", "status", resp.StatusCode, "path", path, "body", msg)
		return resp.StatusCode, fmt.Errorf("integration API returned %d: %s", resp.StatusCode, msg)
	}

	if len(respBody) == 0 || out == nil {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}
