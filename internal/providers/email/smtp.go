package email

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"net/smtp"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

type SMTPProvider struct {
	cfg      Config
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTP(cfg Config) *SMTPProvider {
	return &SMTPProvider{cfg: cfg, sendMail: smtp.SendMail}
}

func (p *SMTPProvider) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return errors.New("email: no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	return p.sendMail(addr, auth, p.cfg.From, msg.To, buildMessage(p.fromHeader(), msg.To, msg.Subject, msg.HTML))
}

func (p *SMTPProvider) fromHeader() string {
	if p.cfg.FromName == "" {
		return p.cfg.From
	}
	return (&mail.Address{Name: p.cfg.FromName, Address: p.cfg.From}).String()
}

// Render executes one of the embedded templates.
func Render(templateName string, data interface{}) (string, error) {
	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, templateName+".html", data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return body.String(), nil
}

func buildMessage(from string, to []string, subject string, htmlBody string) []byte {
	var msg strings.Builder
	msg.WriteString("From: " + from + "\r\n")
	msg.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	msg.WriteString("Subject: " + sanitizeHeader(subject) + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.WriteString(htmlBody)
	return []byte(msg.String())
}

func sanitizeHeader(value string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
}

func subjectFor(templateName string, data interface{}) string {
	if dataMap, ok := data.(map[string]interface{}); ok {
		if subj, ok := dataMap["subject"].(string); ok && subj != "" {
			return subj
		}
	}
	switch templateName {
	case TemplateSignatureReminder:
		if reminder, ok := data.(SignatureReminderData); ok && reminder.DocumentTitle != "" {
			return fmt.Sprintf("Reminder: please sign %q", reminder.DocumentTitle)
		}
		return "Reminder: a document is waiting for your signature"
	}
	return "Notification"
}
