// Package delivery owns the schedule message lifecycle: creation, channel
// dispatch, response ingestion, resends and the save-back to the scheduling
// system.
package delivery

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/schedule-notify/internal/settings"
)

// State is the lifecycle state of a ScheduleMessage.
type State string

const (
	StateAwaitingSend                 State = "AWAITING_SEND"
	StateEnqueued                     State = "ENQUEUED_ACT_MSG"
	StateAwaitingResponse             State = "AWAITING_RESPONSE"
	StateAwaitingSaveIntegrations     State = "AWAITING_SAVE_INTEGRATIONS"
	StateSavedIntegrations            State = "SAVED_INTEGRATIONS"
	StateAwaitingResend               State = "AWAITING_RESEND"
	StateTriedResend                  State = "TRYED_RESEND"
	StateRetryResendConfirmResponse   State = "RETRY_RESEND_CONFIRM_RSPNS"
	StateScheduleChanged              State = "SCHEDULE_CHANGED"
	StateSent                         State = "SENT"
	StateNoRecipient                  State = "NO_RECIPIENT"
	StateIndividualCancelNotCompleted State = "INDIVIDUAL_CANCEL_NOT_COMPLETED"
)

// ResponseType is the patient outcome recorded on a message.
type ResponseType string

const (
	ResponseNone                     ResponseType = ""
	ResponseConfirmed                ResponseType = "confirmed"
	ResponseCanceled                 ResponseType = "canceled"
	ResponseReschedule               ResponseType = "reschedule"
	ResponseIndividualCancel         ResponseType = "individual_cancel"
	ResponseConfirmRescheduleRecover ResponseType = "confirm_reschedule_recover"
	ResponseCancelRescheduleRecover  ResponseType = "cancel_reschedule_recover"
	ResponseStartRescheduleRecover   ResponseType = "start_reschedule_recover"
	ResponseInvalidNumber            ResponseType = "invalid_number"
	ResponseNoRecipient              ResponseType = "no_recipient"
	ResponseInvalidRecipient         ResponseType = "invalid_recipient"
	ResponseOpenConversation         ResponseType = "open_cvs"
)

// Channel status codes carried by status_changed events.
const (
	StatusInvalidNumber    = -1
	StatusOpenConversation = -2
)

var statusResponses = map[int]ResponseType{
	1: ResponseConfirmed,
	2: ResponseCanceled,
	3: ResponseReschedule,
	4: ResponseIndividualCancel,
	5: ResponseConfirmRescheduleRecover,
	6: ResponseCancelRescheduleRecover,
	7: ResponseStartRescheduleRecover,
}

// ResponseForStatus maps a terminal channel status code to its response type.
func ResponseForStatus(code int) (ResponseType, bool) {
	rt, ok := statusResponses[code]
	return rt, ok
}

// Sending group types used for follow-up rows; they keep the uniqueness tuple
// distinct from the original send.
const (
	SendingGroupResendOpenConversation = "resend_open_cvs"
	SendingGroupRetryNotAnswered       = "retry_not_answered"
)

const openConversationTTL = 4 * 24 * time.Hour

var (
	// ErrMessageNotFound is returned when a schedule message id does not exist.
	ErrMessageNotFound = errors.New("delivery: schedule message not found")
	// ErrScheduleInPast refuses resends for appointments that already happened.
	ErrScheduleInPast = errors.New("delivery: schedule date already passed")
	// ErrResendDisabled refuses resends the send setting does not allow.
	ErrResendDisabled = errors.New("delivery: resend disabled for setting")
	// ErrNoChannel is returned when no channel handles a recipient type.
	ErrNoChannel = errors.New("delivery: no channel for recipient type")
)

// ScheduleMessage is one outbound attempt for a schedule. (schedule_id,
// send_type, recipient, recipient_type, sending_group_type) is unique.
type ScheduleMessage struct {
	ID                uuid.UUID              `json:"uuid"`
	ScheduleID        uuid.UUID              `json:"scheduleId"`
	ScheduleSettingID uuid.UUID              `json:"scheduleSettingId"`
	TypeSettingID     uuid.UUID              `json:"typeSettingId"`
	WorkspaceID       string                 `json:"workspaceId"`
	GroupID           *uuid.UUID             `json:"groupId,omitempty"`
	SendType          settings.SendType      `json:"sendType"`
	Recipient         string                 `json:"recipient"`
	RecipientType     settings.RecipientType `json:"recipientType"`
	SendingGroupType  string                 `json:"sendingGroupType"`
	State             State                  `json:"state"`
	ResponseType      ResponseType           `json:"responseType,omitempty"`
	ReasonID          *uuid.UUID             `json:"reasonId,omitempty"`
	ConversationID    string                 `json:"conversationId,omitempty"`
	NpsScore          *int                   `json:"npsScore,omitempty"`
	NpsComment        string                 `json:"npsComment,omitempty"`
	SendedAt          *time.Time             `json:"sendedAt,omitempty"`
	EnqueuedAt        *time.Time             `json:"enqueuedAt,omitempty"`
	ReceivedAt        *time.Time             `json:"receivedAt,omitempty"`
	ReadAt            *time.Time             `json:"readAt,omitempty"`
	AnsweredAt        *time.Time             `json:"answeredAt,omitempty"`
	ResponseAt        *time.Time             `json:"responseAt,omitempty"`
	CreatedAt         time.Time              `json:"createdAt"`
	UpdatedAt         time.Time              `json:"updatedAt"`
}

// followUp copies the routing fields of m into a fresh row for a new attempt.
func (m *ScheduleMessage) followUp(sendingGroupType string, state State) *ScheduleMessage {
	return &ScheduleMessage{
		ID:                uuid.New(),
		ScheduleID:        m.ScheduleID,
		ScheduleSettingID: m.ScheduleSettingID,
		TypeSettingID:     m.TypeSettingID,
		WorkspaceID:       m.WorkspaceID,
		GroupID:           m.GroupID,
		SendType:          m.SendType,
		Recipient:         m.Recipient,
		RecipientType:     m.RecipientType,
		SendingGroupType:  sendingGroupType,
		State:             state,
		ConversationID:    m.ConversationID,
	}
}

// SendJob is the payload published to the messaging worker for WhatsApp sends.
type SendJob struct {
	MessageUUID string            `json:"messageUuid"`
	WorkspaceID string            `json:"workspaceId"`
	ScheduleID  string            `json:"scheduleId"`
	SendType    string            `json:"sendType"`
	Recipient   string            `json:"recipient"`
	TemplateID  string            `json:"templateId"`
	Variables   map[string]string `json:"variables"`
}

func timePtr(t time.Time) *time.Time {
	return &t
}
