package mail

import (
	"context"
	"fmt"
	netmail "net/mail"
	"time"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

type Sendgrid struct {
	apiKey string
}

func NewSendgrid(apiKey string) *Sendgrid {
	return &Sendgrid{apiKey: apiKey}
}

func (s *Sendgrid) SendMail(ctx context.Context, e *Email) error {
	from, err := parseAddress(e.From)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	message := sgmail.NewV3Mail()
	message.SetFrom(from)
	message.Subject = e.Subject

	p := sgmail.NewPersonalization()
	for _, to := range e.To {
		addr, err := parseAddress(to)
		if err != nil {
			return fmt.Errorf("invalid recipient: %w", err)
		}
		p.AddTos(addr)
	}
	message.AddPersonalizations(p)
	message.AddContent(sgmail.NewContent("text/plain", e.Body))

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	client := sendgrid.NewSendClient(s.apiKey)
	response, err := client.SendWithContext(ctx, message)
	if err != nil {
		return err
	}
	if response.StatusCode >= 300 {
		return fmt.Errorf("sendgrid rejected message: status %d: %s", response.StatusCode, response.Body)
	}

	return nil
}

func parseAddress(s string) (*sgmail.Email, error) {
	addr, err := netmail.ParseAddress(s)
	if err != nil {
		return nil, err
	}
	return sgmail.NewEmail(addr.Name, addr.Address), nil
}
