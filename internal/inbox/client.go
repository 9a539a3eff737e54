// Package inbox talks to the messaging inbox that owns patient conversations.
package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/schedule-notify/pkg/logging"
)

var inboxTracer = otel.Tracer("schedule-notify.internal.inbox")

// ErrConversationNotFound is returned when the inbox has no such conversation.
var ErrConversationNotFound = errors.New("inbox: conversation not found")

// ChannelConfirmation is the conversation type opened by confirmation sends.
const ChannelConfirmation = "confirmation"

// Conversation is the inbox view of a patient conversation.
type Conversation struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	State       string `json:"state"`
	AssignedTo  string `json:"assignedTo,omitempty"`
	ChannelType string `json:"channelType"`
}

// Open reports whether the conversation has not been closed.
func (c Conversation) Open() bool {
	return !strings.EqualFold(c.State, "closed")
}

// Assigned reports whether an agent took the conversation.
func (c Conversation) Assigned() bool {
	return strings.TrimSpace(c.AssignedTo) != ""
}

// Activity is an outbound message posted into an existing conversation.
type Activity struct {
	TemplateID string            `json:"templateId"`
	Variables  map[string]string `json:"variables,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Client wraps the inbox REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *logging.Logger
}

// NewClient constructs an inbox client.
func NewClient(baseURL, token string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		logger:     logger,
	}
}

// GetConversation loads one conversation.
func (c *Client) GetConversation(ctx context.Context, workspaceID, conversationID string) (*Conversation, error) {
	ctx, span := inboxTracer.Start(ctx, "inbox.get_conversation")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	var out Conversation
	path := fmt.Sprintf("/workspaces/%s/conversations/%s", url.PathEscape(workspaceID), url.PathEscape(conversationID))
	status, err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	if status == http.StatusNotFound {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("inbox: get conversation: %w", err)
	}
	return &out, nil
}

// SendActivity posts a message into an open conversation.
func (c *Client) SendActivity(ctx context.Context, workspaceID, conversationID string, activity Activity) error {
	ctx, span := inboxTracer.Start(ctx, "inbox.send_activity")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	path := fmt.Sprintf("/workspaces/%s/conversations/%s/activities", url.PathEscape(workspaceID), url.PathEscape(conversationID))
	if _, err := c.doJSON(ctx, http.MethodPost, path, activity, nil); err != nil {
		span.RecordError(err)
		return fmt.Errorf("inbox: send activity: %w", err)
	}
	return nil
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
		c.logger.Warn("inbox API non-2xx response", "status", resp.StatusCode, "path", path, "body", msg)
		return resp.StatusCode, fmt.Errorf("inbox API returned %d: %s", resp.StatusCode, msg)
	}
	if len(respBody) == 0 || out == nil {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}
