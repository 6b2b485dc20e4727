package mail

import (
	"context"
	"fmt"

	"addrbook/internal/config"
)

type Email struct {
	Subject string
	Body    string
	From    string
	To      []string
}

type Mailer interface {
	SendMail(ctx context.Context, e *Email) error
}

// NewMailer returns the sender selected by MAIL_PROVIDER.
func NewMailer(cfg *config.Config) (Mailer, error) {
	switch cfg.MailProvider {
	case config.MailProviderMailgun:
		return NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunAPIBase), nil
	case config.MailProviderSendgrid:
		return NewSendgrid(cfg.SendgridAPIKey), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.MailProvider)
	}
}
