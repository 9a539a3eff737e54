package runner

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/schedule-notify/internal/archive"
	"github.com/wolfman30/schedule-notify/internal/delivery"
	"github.com/wolfman30/schedule-notify/internal/extract"
	"github.com/wolfman30/schedule-notify/internal/integration"
	"github.com/wolfman30/schedule-notify/internal/schedules"
)

type fakeLedger struct {
	started  []uuid.UUID
	ended    map[uuid.UUID]extract.Counts
	failed   map[uuid.UUID]string
	startErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{ended: map[uuid.UUID]extract.Counts{}, failed: map[uuid.UUID]string{}}
}

func (f *fakeLedger) UpdateStart(_ context.Context, id uuid.UUID) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, id)
	return nil
}

func (f *fakeLedger) UpdateEnded(_ context.Context, id uuid.UUID, counts extract.Counts) error {
	f.ended[id] = counts
	return nil
}

func (f *fakeLedger) UpdateEndedError(_ context.Context, id uuid.UUID, _ extract.Counts, errText string) error {
	f.failed[id] = errText
	return nil
}

type fakeGateway struct {
	records     []integration.Record
	err         error
	windowCalls int
	notifyCalls int
	lastRequest integration.ListRequest
}

func (f *fakeGateway) ListSchedulesToSend(_ context.Context, req integration.ListRequest) ([]integration.Record, error) {
	f.windowCalls++
	f.lastRequest = req
	return f.records, f.err
}

func (f *fakeGateway) ListScheduleNotifications(_ context.Context, req integration.ListRequest) ([]integration.Record, error) {
	f.notifyCalls++
	f.lastRequest = req
	return f.records, f.err
}

type fakeSchedules struct {
	mu     sync.Mutex
	stored []*schedules.Schedule
	fail   map[string]error
}

func (f *fakeSchedules) FindOrCreate(_ context.Context, s *schedules.Schedule) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[s.ScheduleCode]; err != nil {
		return false, err
	}
	s.ID = uuid.New()
	f.stored = append(f.stored, s)
	return true, nil
}

func (f *fakeSchedules) codes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []string{}
	for _, s := range f.stored {
		out = append(out, s.ScheduleCode)
	}
	sort.Strings(out)
	return out
}

type fakeSender struct {
	mu   sync.Mutex
	reqs []delivery.SendRequest
	err  error
}

func (f *fakeSender) SendSchedule(_ context.Context, req delivery.SendRequest) (delivery.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return delivery.SendResult{}, f.err
	}
	f.reqs = append(f.reqs, req)
	return delivery.SendResult{Created: 1, Sent: true}, nil
}

func (f *fakeSender) sentCodes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []string{}
	for _, r := range f.reqs {
		out = append(out, r.Schedule.ScheduleCode)
	}
	sort.Strings(out)
	return out
}

func (f *fakeSender) byCode(code string) *delivery.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.reqs {
		if f.reqs[i].Schedule.ScheduleCode == code {
			return &f.reqs[i]
		}
	}
	return nil
}

type fakeArchive struct {
	payloads []*archive.ExtractPayload
	err      error
}

func (f *fakeArchive) ArchiveExtract(_ context.Context, p *archive.ExtractPayload) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.payloads = append(f.payloads, p)
	return "key", nil
}

var errBoom = errors.New("boom")

func record(patient, code string, at time.Time) integration.Record {
	return integration.Record{
		Contact: integration.Contact{Code: patient, Name: "Patient " + patient, Phones: []string{"5511999990000"}},
		Schedule: integration.ScheduleData{
			ScheduleCode: code,
			ScheduleDate: at,
			PatientCode:  patient,
		},
	}
}
