package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/schedule-notify/internal/cache"
	"github.com/wolfman30/schedule-notify/internal/settings"
)

type countingAlerter struct {
	mu      sync.Mutex
	sources []string
}

func (a *countingAlerter) Capture(_ context.Context, source string, _ error, _ ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources = append(a.sources, source)
}

func (a *countingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sources)
}

type fakeLookup struct {
	settings map[string]*settings.ScheduleSetting
}

func (f *fakeLookup) FindActiveByAPIKey(_ context.Context, apiKey string) (*settings.ScheduleSetting, error) {
	if s, ok := f.settings[apiKey]; ok {
		return s, nil
	}
	return nil, settings.ErrSettingNotFound
}

type recordingPublisher struct {
	jobs []any
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, v any) error {
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, v)
	return nil
}

func newTestCache(t *testing.T) (*cache.Cache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return cache.New(client, nil), mr
}

func TestLimiterRejectsAfterCeilingAndAlertsOnce(t *testing.T) {
	c, _ := newTestCache(t)
	alerter := &countingAlerter{}
	limiter := NewLimiter(c, 1000, time.Minute, alerter, nil, nil)
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		require.NoError(t, limiter.Allow(ctx, "key-1"), "request %d", i+1)
	}
	assert.Equal(t, 0, alerter.count())

	assert.ErrorIs(t, limiter.Allow(ctx, "key-1"), ErrRateLimited)
	assert.Equal(t, 1, alerter.count())

	assert.ErrorIs(t, limiter.Allow(ctx, "key-1"), ErrRateLimited)
	assert.ErrorIs(t, limiter.Allow(ctx, "key-1"), ErrRateLimited)
	assert.Equal(t, 1, alerter.count())

	assert.NoError(t, limiter.Allow(ctx, "key-2"))
}

func TestLimiterWindowRollsOver(t *testing.T) {
	c, mr := newTestCache(t)
	limiter := NewLimiter(c, 2, time.Minute, nil, nil, nil)
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, "k"))
	require.NoError(t, limiter.Allow(ctx, "k"))
	require.ErrorIs(t, limiter.Allow(ctx, "k"), ErrRateLimited)

	mr.FastForward(61 * time.Second)
	assert.NoError(t, limiter.Allow(ctx, "k"))
}

func TestLimiterAllowsWithoutCache(t *testing.T) {
	limiter := NewLimiter(cache.New(nil, nil), 1, time.Minute, nil, nil, nil)
	for i := 0; i < 5; i++ {
		assert.NoError(t, limiter.Allow(context.Background(), "k"))
	}
}

func newTestService(t *testing.T, pub *recordingPublisher) *Service {
	t.Helper()
	c, _ := newTestCache(t)
	lookup := &fakeLookup{settings: map[string]*settings.ScheduleSetting{
		"key-1": {
			ID:          uuid.New(),
			WorkspaceID: "ws",
			Active:      true,
			TypeSettings: []settings.TypeSetting{
				{ID: uuid.New(), SendType: settings.SendTypeConfirmation, Active: true},
				{ID: uuid.New(), SendType: settings.SendTypeNPS, Active: false},
			},
		},
	}}
	svc := NewService(lookup, NewLimiter(c, 1000, time.Minute, nil, nil, nil), pub, 512, nil, nil)
	svc.now = func() time.Time { return time.Date(2025, time.March, 11, 13, 0, 0, 0, time.UTC) }
	return svc
}

func validBody(t *testing.T, sendType settings.SendType) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"sendType": sendType,
		"contact":  map[string]any{"code": "P1", "name": "Ana", "phones": []string{"5511999990000"}},
		"schedule": map[string]any{"scheduleCode": "S1", "scheduleDate": "2025-03-12T12:00:00Z"},
	})
	require.NoError(t, err)
	return body
}

func TestSubmitQueuesJob(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newTestService(t, pub)

	job, err := svc.Submit(context.Background(), "key-1", validBody(t, settings.SendTypeConfirmation))
	require.NoError(t, err)
	require.Len(t, pub.jobs, 1)
	assert.Equal(t, "S1", job.Record.Schedule.ScheduleCode)
	assert.Equal(t, settings.SendTypeConfirmation, job.TypeSetting.SendType)

	raw, err := json.Marshal(pub.jobs[0])
	require.NoError(t, err)
	decoded, err := DecodeJob(string(raw))
	require.NoError(t, err)
	assert.Equal(t, "P1", decoded.Record.Contact.Code)
}

func TestSubmitRejections(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		body   []byte
		want   error
	}{
		{name: "too large", apiKey: "key-1", body: make([]byte, 600), want: ErrPayloadTooLarge},
		{name: "unknown key", apiKey: "nope", body: []byte(`{}`), want: ErrNoActiveSetting},
		{name: "malformed", apiKey: "key-1", body: []byte(`{`), want: ErrInvalidPayload},
		{name: "missing schedule", apiKey: "key-1", body: []byte(`{"sendType":"confirmation"}`), want: ErrInvalidPayload},
		{name: "inactive send type", apiKey: "key-1", body: validBody(t, settings.SendTypeNPS), want: ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &recordingPublisher{}
			svc := newTestService(t, pub)
			_, err := svc.Submit(context.Background(), tt.apiKey, tt.body)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, pub.jobs)
		})
	}
}

func TestSubmitPublishError(t *testing.T) {
	svc := newTestService(t, &recordingPublisher{err: errors.New("queue down")})
	_, err := svc.Submit(context.Background(), "key-1", validBody(t, settings.SendTypeConfirmation))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue down")
}
