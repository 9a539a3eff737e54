package notify

import (
	"strings"

	"github.com/wolfman30/schedule-notify/pkg/logging"
)

// ProviderConfig selects and configures the email provider.
type ProviderConfig struct {
	Provider       string
	SendGridAPIKey string
	FromEmail      string
	FromName       string
}

// NewEmailSender picks a sender for the configured provider, falling back to
// the stub when the provider is unknown or lacks credentials.
func NewEmailSender(cfg ProviderConfig, ses SESAPI, logger *logging.Logger) EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "sendgrid":
		if s := NewSendGridSender(SendGridConfig{APIKey: cfg.SendGridAPIKey, FromEmail: cfg.FromEmail, FromName: cfg.FromName}, logger); s != nil {
			return s
		}
		logger.Warn("notify: sendgrid selected without api key, using stub sender")
	case "ses":
		if s := NewSESSender(ses, SESConfig{FromEmail: cfg.FromEmail, FromName: cfg.FromName}, logger); s != nil {
			return s
		}
		logger.Warn("notify: ses selected without client, using stub sender")
	}
	return NewStubEmailSender(logger)
}
