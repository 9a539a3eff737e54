package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/schedule-notify/pkg/logging"
)

type fakeSendGrid struct {
	sent   []*mail.SGMailV3
	status int
	err    error
}

func (f *fakeSendGrid) SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	f.sent = append(f.sent, email)
	if f.err != nil {
		return nil, f.err
	}
	return &rest.Response{StatusCode: f.status}, nil
}

type fakeSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "",
		FromEmail: "test@example.com",
	}, nil)

	if sender != nil {
		t.Error("expected nil sender when API key is empty")
	}
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "test-key",
		FromEmail: "test@example.com",
	}, nil)

	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.fromName != defaultFromName {
		t.Errorf("expected default from name %q, got %q", defaultFromName, sender.fromName)
	}
}

func TestSendGridSender_SendCarriesTags(t *testing.T) {
	fake := &fakeSendGrid{status: 202}
	sender := &SendGridSender{client: fake, fromEmail: "no-reply@clinic.test", fromName: "Clinic", logger: logging.Default()}

	err := sender.Send(context.Background(), EmailMessage{
		To:      "patient@example.com",
		Subject: "Confirme sua consulta",
		Body:    "Olá\nAté amanhã",
		Tags:    map[string]string{"message_uuid": "abc"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(fake.sent))
	}
	if fake.sent[0].CustomArgs["message_uuid"] != "abc" {
		t.Fatalf("expected custom arg, got %+v", fake.sent[0].CustomArgs)
	}
}

func TestSendGridSender_SendErrorStatus(t *testing.T) {
	fake := &fakeSendGrid{status: 401}
	sender := &SendGridSender{client: fake, logger: logging.Default()}

	if err := sender.Send(context.Background(), EmailMessage{To: "patient@example.com"}); err == nil {
		t.Fatal("expected error for 4xx status")
	}
}

func TestSendGridSender_Send_NilClient(t *testing.T) {
	sender := &SendGridSender{client: nil}

	err := sender.Send(context.Background(), EmailMessage{
		To:      "recipient@example.com",
		Subject: "Test",
		Body:    "Test body",
	})
	if err == nil {
		t.Error("expected error when client is nil")
	}
}

func TestSESSender_Send(t *testing.T) {
	fake := &fakeSES{}
	sender := NewSESSender(fake, SESConfig{FromEmail: "no-reply@clinic.test"}, nil)

	err := sender.Send(context.Background(), EmailMessage{
		To:      "patient@example.com",
		Subject: "Lembrete",
		Body:    "Sua consulta é amanhã",
		Tags:    map[string]string{"workspace_id": "ws", "message_uuid": "abc"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	in := fake.inputs[0]
	if aws.ToString(in.FromEmailAddress) != defaultFromName+" <no-reply@clinic.test>" {
		t.Fatalf("unexpected from %q", aws.ToString(in.FromEmailAddress))
	}
	if in.Content.Simple.Body.Text == nil || in.Content.Simple.Body.Html != nil {
		t.Fatalf("expected text-only body")
	}
	if len(in.EmailTags) != 2 || aws.ToString(in.EmailTags[0].Name) != "message_uuid" {
		t.Fatalf("expected sorted tags, got %+v", in.EmailTags)
	}
}

func TestSESSender_SendError(t *testing.T) {
	sender := NewSESSender(&fakeSES{err: errors.New("throttled")}, SESConfig{}, nil)
	if err := sender.Send(context.Background(), EmailMessage{To: "x@example.com"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewSESSender_NilClient(t *testing.T) {
	if NewSESSender(nil, SESConfig{}, nil) != nil {
		t.Fatal("expected nil sender without client")
	}
}

func TestStubEmailSender_Send(t *testing.T) {
	sender := NewStubEmailSender(nil)

	err := sender.Send(context.Background(), EmailMessage{
		To:      "recipient@example.com",
		Subject: "Test Subject",
		Body:    "Test body",
	})
	if err != nil {
		t.Errorf("stub sender should not return error, got: %v", err)
	}
}

func TestNewEmailSender(t *testing.T) {
	if _, ok := NewEmailSender(ProviderConfig{Provider: "sendgrid", SendGridAPIKey: "k"}, nil, nil).(*SendGridSender); !ok {
		t.Error("expected sendgrid sender")
	}
	if _, ok := NewEmailSender(ProviderConfig{Provider: "SES"}, &fakeSES{}, nil).(*SESSender); !ok {
		t.Error("expected ses sender")
	}
	if _, ok := NewEmailSender(ProviderConfig{Provider: "sendgrid"}, nil, nil).(*StubEmailSender); !ok {
		t.Error("expected stub fallback without api key")
	}
	if _, ok := NewEmailSender(ProviderConfig{}, nil, nil).(*StubEmailSender); !ok {
		t.Error("expected stub by default")
	}
}
