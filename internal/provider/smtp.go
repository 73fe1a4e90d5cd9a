package provider

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/courier-notify/internal/domain"
	"gopkg.in/gomail.v2"
)

const defaultEmailSubject = "Shipment notification"

// mailSender is the subset of *gomail.Dialer used by SMTPProvider.
type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPProvider delivers EMAIL notifications through an SMTP relay.
type SMTPProvider struct {
	sender mailSender
	from   string
	domain string
}

func NewSMTPProvider(host string, port int, username, password, from string) (*SMTPProvider, error) {
	if strings.TrimSpace(host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	return newSMTPProvider(gomail.NewDialer(host, port, username, password), from)
}

func newSMTPProvider(sender mailSender, from string) (*SMTPProvider, error) {
	if sender == nil {
		return nil, fmt.Errorf("smtp sender is required")
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(from))
	if err != nil {
		return nil, fmt.Errorf("invalid smtp from address: %w", err)
	}

	msgDomain := "localhost"
	if at := strings.LastIndexByte(addr.Address, '@'); at >= 0 && at < len(addr.Address)-1 {
		msgDomain = addr.Address[at+1:]
	}

	return &SMTPProvider{
		sender: sender,
		from:   addr.String(),
		domain: msgDomain,
	}, nil
}

func (p *SMTPProvider) Send(ctx context.Context, msg Message) (*Result, error) {
	if p == nil || p.sender == nil {
		return nil, fmt.Errorf("smtp provider is not initialized")
	}

	to, err := mail.ParseAddress(strings.TrimSpace(msg.Recipient))
	if err != nil {
		return nil, &ProviderError{
			Channel: domain.ChannelEmail.String(),
			Message: fmt.Sprintf("invalid recipient %q", msg.Recipient),
			Cause:   err,
		}
	}

	subject := defaultEmailSubject
	if msg.Subject != nil && strings.TrimSpace(*msg.Subject) != "" {
		subject = strings.TrimSpace(*msg.Subject)
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), p.domain)

	m := gomail.NewMessage()
	m.SetHeader("From", p.from)
	m.SetHeader("To", to.String())
	m.SetHeader("Subject", subject)
	m.SetHeader("Message-ID", messageID)
	m.SetBody("text/plain", msg.Body)

	done := make(chan error, 1)
	go func() {
		done <- p.sender.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return nil, &ProviderError{
			Channel: domain.ChannelEmail.String(),
			Message: "smtp send interrupted",
			Cause:   ctx.Err(),
		}
	case err := <-done:
		if err != nil {
			return nil, &ProviderError{
				Channel: domain.ChannelEmail.String(),
				Message: "smtp send failed",
				Cause:   err,
			}
		}
	}

	return &Result{Success: true, ProviderID: messageID}, nil
}
