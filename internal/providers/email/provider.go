package email

import (
	"context"

	"go.uber.org/zap"
)

// Message is a rendered email ready for delivery.
type Message struct {
	To      []string
	Subject string
	HTML    string
}

type Provider interface {
	Send(ctx context.Context, msg Message) error
}

// NoOpProvider drops every message. It backs deployments without SMTP.
type NoOpProvider struct {
	log *zap.Logger
}

func (p *NoOpProvider) Send(ctx context.Context, msg Message) error {
	if p != nil && p.log != nil {
		p.log.Debug("email dropped, no transport configured",
			zap.Int("recipients", len(msg.To)),
			zap.String("subject", msg.Subject),
		)
	}
	return nil
}

// NewTemplateMessage renders one of the embedded templates into a Message.
func NewTemplateMessage(to []string, templateName string, data any) (Message, error) {
	body, err := Render(templateName, data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: subjectFor(templateName, data),
		HTML:    body,
	}, nil
}
