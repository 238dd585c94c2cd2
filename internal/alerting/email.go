package alerting

import (
	"bytes"
	"fmt"
	"net/smtp"
	"text/template"
	"time"

	"github.com/jrmarin/energy-server/internal/protocol"
	"github.com/jrmarin/energy-server/pkg/config"
)

// EmailNotifier sends email notifications for alert events
type EmailNotifier struct {
	config *config.SMTPConfig
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.SMTPConfig) *EmailNotifier {
	return &EmailNotifier{config: cfg}
}

// SendAlertNotification sends an email for an alert event
func (e *EmailNotifier) SendAlertNotification(event *protocol.AlertEvent) error {
	var subject string
	var body string
	var err error

	switch event.Type {
	case protocol.AlertTypeRaised:
		subject = fmt.Sprintf("Consumption Alert RAISED - %s (%s)", event.DeviceID, event.State)
		body, err = e.renderRaisedTemplate(event)
	case protocol.AlertTypeCleared:
		subject = fmt.Sprintf("Consumption Alert CLEARED - %s", event.DeviceID)
		body, err = e.renderClearedTemplate(event)
	default:
		return fmt.Errorf("unknown event type: %s", event.Type)
	}

	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	return e.sendEmail(subject, body)
}

func (e *EmailNotifier) renderRaisedTemplate(event *protocol.AlertEvent) (string, error) {
	tmpl := `
Consumption Alert Raised
========================

Meter: {{.DeviceID}}{{if .Description}} ({{.Description}}){{end}}
Date: {{.Date.Format "2006-01-02"}}
Classification: {{.State}}
Max Deviation: {{printf "%.1f" .MaxAbsDeviation}}%
Raised At: {{.RaisedAt.Format "2006-01-02 15:04:05"}}

{{if .Summary}}Summary:
{{.Summary}}

{{end}}The meter's consumption on {{.Date.Format "2006-01-02"}} deviated from its
historical pattern by up to {{printf "%.1f" .MaxAbsDeviation}}%.

Please review the day's analysis for details.

---
Energy Server Notification System
`

	t, err := template.New("raised").Parse(tmpl)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, event); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func (e *EmailNotifier) renderClearedTemplate(event *protocol.AlertEvent) (string, error) {
	tmpl := `
Consumption Alert Cleared
=========================

Meter: {{.DeviceID}}{{if .Description}} ({{.Description}}){{end}}

The alert raised at {{.RaisedAt.Format "2006-01-02 15:04:05"}} has cleared.
Consumption has returned to its expected pattern.

---
Energy Server Notification System
`

	t, err := template.New("cleared").Parse(tmpl)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, event); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func (e *EmailNotifier) sendEmail(subject, body string) error {
	// Skip sending if SMTP is not configured
	if e.config.Username == "" || e.config.Password == "" {
		fmt.Printf("SMTP not configured, skipping email:\nSubject: %s\n%s\n", subject, body)
		return nil
	}

	// Construct message
	message := fmt.Sprintf("From: %s\r\n", e.config.From)
	message += fmt.Sprintf("To: %s\r\n", e.config.To)
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	message += "\r\n"
	message += body

	// Setup authentication
	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)

	// Send email
	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	err := smtp.SendMail(addr, auth, e.config.From, []string{e.config.To}, []byte(message))
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	fmt.Printf("Email sent successfully: %s\n", subject)
	return nil
}

// TestConnection tests the SMTP connection
func (e *EmailNotifier) TestConnection() error {
	if e.config.Username == "" {
		return fmt.Errorf("SMTP not configured")
	}

	// Try to connect
	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	fmt.Println("SMTP connection test successful")
	return nil
}
