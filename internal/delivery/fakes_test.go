package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/schedule-notify/internal/inbox"
	"github.com/wolfman30/schedule-notify/internal/integration"
	"github.com/wolfman30/schedule-notify/internal/schedules"
	"github.com/wolfman30/schedule-notify/internal/settings"
)

type fakeMessages struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*ScheduleMessage
	keys map[string]uuid.UUID
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{rows: map[uuid.UUID]*ScheduleMessage{}, keys: map[string]uuid.UUID{}}
}

func uniqueKey(m *ScheduleMessage) string {
	return m.ScheduleID.String() + "|" + string(m.SendType) + "|" + m.Recipient + "|" + string(m.RecipientType) + "|" + m.SendingGroupType
}

func (f *fakeMessages) CreateIfNotExists(ctx context.Context, m *ScheduleMessage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[uniqueKey(m)]; ok {
		return false, nil
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = time.Now()
	cp := *m
	f.rows[m.ID] = &cp
	f.keys[uniqueKey(m)] = m.ID
	return true, nil
}

func (f *fakeMessages) Get(ctx context.Context, id uuid.UUID) (*ScheduleMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMessages) Update(ctx context.Context, m *ScheduleMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[m.ID]; !ok {
		return ErrMessageNotFound
	}
	cp := *m
	f.rows[m.ID] = &cp
	return nil
}

func (f *fakeMessages) FindAlternateRecipient(ctx context.Context, m *ScheduleMessage) (*ScheduleMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		sameGroup := (m.GroupID != nil && r.GroupID != nil && *m.GroupID == *r.GroupID) ||
			(m.GroupID == nil && r.ScheduleID == m.ScheduleID)
		if r.ID != m.ID && sameGroup && r.WorkspaceID == m.WorkspaceID && r.RecipientType == m.RecipientType &&
			r.SendType == m.SendType && r.State == StateAwaitingSend && r.ResponseType == ResponseNone && r.SendedAt == nil {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeMessages) ListNotAnswered(ctx context.Context, since time.Time) ([]NotAnsweredCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []NotAnsweredCandidate{}
	for _, r := range f.rows {
		if (r.State == StateAwaitingResponse || r.State == StateRetryResendConfirmResponse) && r.ConversationID != "" &&
			r.SendedAt != nil && !r.SendedAt.Before(since) {
			out = append(out, NotAnsweredCandidate{Message: *r, PatientCode: "P1"})
		}
	}
	return out, nil
}

func (f *fakeMessages) ListPendingIntegrationSave(ctx context.Context, since time.Time) ([]ScheduleMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []ScheduleMessage{}
	for _, r := range f.rows {
		if r.SendType == settings.SendTypeConfirmation && r.State == StateAwaitingSaveIntegrations &&
			(r.ResponseType == ResponseConfirmed || r.ResponseType == ResponseCanceled) &&
			r.ResponseAt != nil && !r.ResponseAt.Before(since) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeMessages) all() []*ScheduleMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*ScheduleMessage, 0, len(f.rows))
	for _, r := range f.rows {
		out = append(out, r)
	}
	return out
}

func (f *fakeMessages) bySendingGroup(group string) []*ScheduleMessage {
	out := []*ScheduleMessage{}
	for _, r := range f.all() {
		if r.SendingGroupType == group {
			out = append(out, r)
		}
	}
	return out
}

type fakeSchedules struct {
	rows map[uuid.UUID]*schedules.Schedule
}

func (f *fakeSchedules) Get(ctx context.Context, id uuid.UUID) (*schedules.Schedule, error) {
	s, ok := f.rows[id]
	if !ok {
		return nil, schedules.ErrScheduleNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSchedules) ListByGroup(ctx context.Context, workspaceID string, groupID uuid.UUID) ([]schedules.Schedule, error) {
	out := []schedules.Schedule{}
	for _, s := range f.rows {
		if s.GroupID != nil && *s.GroupID == groupID && s.WorkspaceID == workspaceID {
			out = append(out, *s)
		}
	}
	return out, nil
}

type fakeSettings struct {
	setting     *settings.ScheduleSetting
	typeSetting *settings.TypeSetting
	reasons     map[uuid.UUID]bool
	templates   map[string]*settings.EmailTemplate
}

func (f *fakeSettings) Get(ctx context.Context, id uuid.UUID) (*settings.ScheduleSetting, error) {
	cp := *f.setting
	return &cp, nil
}

func (f *fakeSettings) GetTypeSetting(ctx context.Context, id uuid.UUID) (*settings.TypeSetting, error) {
	cp := *f.typeSetting
	return &cp, nil
}

func (f *fakeSettings) CancelReason(ctx context.Context, workspaceID string, id uuid.UUID) (*settings.CancelReason, error) {
	if !f.reasons[id] {
		return nil, settings.ErrSettingNotFound
	}
	return &settings.CancelReason{ID: id, WorkspaceID: workspaceID, Name: "Viagem"}, nil
}

func (f *fakeSettings) EmailTemplate(ctx context.Context, workspaceID, templateID string) (*settings.EmailTemplate, error) {
	return f.templates[templateID], nil
}

type fakeGateway struct {
	mu        sync.Mutex
	ok        bool
	err       error
	validOK   bool
	validErr  error
	confirmed []string
	canceled  []string
}

func (f *fakeGateway) ConfirmAppointment(ctx context.Context, req integration.ActionRequest) (integration.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, req.Schedule.ScheduleCode)
	return integration.Result{OK: f.ok}, f.err
}

func (f *fakeGateway) CancelAppointment(ctx context.Context, req integration.ActionRequest) (integration.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, req.Schedule.ScheduleCode)
	return integration.Result{OK: f.ok}, f.err
}

func (f *fakeGateway) ValidateScheduleData(ctx context.Context, req integration.ActionRequest) (integration.Result, error) {
	if f.validErr != nil {
		return integration.Result{}, f.validErr
	}
	return integration.Result{OK: f.validOK}, nil
}

type fakeInbox struct {
	conv       *inbox.Conversation
	activities []inbox.Activity
}

func (f *fakeInbox) GetConversation(ctx context.Context, workspaceID, conversationID string) (*inbox.Conversation, error) {
	if f.conv == nil {
		return nil, inbox.ErrConversationNotFound
	}
	cp := *f.conv
	return &cp, nil
}

func (f *fakeInbox) SendActivity(ctx context.Context, workspaceID, conversationID string, activity inbox.Activity) error {
	f.activities = append(f.activities, activity)
	return nil
}

type fakeCache struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeCache) Get(ctx context.Context, key string) (string, bool) {
	v, ok := f.values[key]
	return v, ok
}

func (f *fakeCache) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	f.values[key] = value
	f.ttls[key] = ttl
	return true
}

func (f *fakeCache) Del(ctx context.Context, keys ...string) {
	for _, k := range keys {
		delete(f.values, k)
	}
}

type recordingChannel struct {
	sent []Delivery
	err  error
}

func (c *recordingChannel) Send(ctx context.Context, d Delivery) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, d)
	return nil
}

type fakeDeduper struct {
	seen map[string]bool
}

func (f *fakeDeduper) MarkProcessed(ctx context.Context, source, eventID string) (bool, error) {
	if f.seen[source+eventID] {
		return false, nil
	}
	f.seen[source+eventID] = true
	return true, nil
}

func (f *fakeDeduper) Forget(ctx context.Context, source, eventID string) error {
	delete(f.seen, source+eventID)
	return nil
}
