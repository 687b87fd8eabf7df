package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"time"
)

// MailConfig holds SMTP configuration
type MailConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// AppURL links the notice back to the board.
	AppURL string
}

// Mailer sends collaboration notices over SMTP.
type Mailer struct {
	config MailConfig
	server string
	auth   smtp.Auth
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewMailer(config MailConfig) *Mailer {
	return &Mailer{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   smtp.PlainAuth("", config.Username, config.Password, config.Host),
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (m *Mailer) IsConfigured() bool {
	return m != nil && m.config.Host != "" && m.config.Port != "" && m.config.From != ""
}

// MoveNotice is rendered into the collaboration email.
type MoveNotice struct {
	AppName   string
	ProjectID string
	Instance  string
	ItemTitle string
	Day       string
	Actor     string
	BoardURL  string
}

func (m *Mailer) SendMoveNotice(to []string, notice MoveNotice) error {
	if notice.AppName == "" {
		notice.AppName = "Cadence"
	}
	if notice.BoardURL == "" && m.config.AppURL != "" {
		notice.BoardURL = strings.TrimRight(m.config.AppURL, "/") + "/projects/" + notice.ProjectID + "/" + notice.Instance
	}
	html, err := renderTemplate(moveNoticeTemplate, notice)
	if err != nil {
		return fmt.Errorf("render move notice: %w", err)
	}
	subject := fmt.Sprintf("%q scheduled for %s", notice.ItemTitle, notice.Day)
	return m.SendHTMLEmail(to, subject, html)
}

// SendHTMLEmail sends an HTML email
func (m *Mailer) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !m.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	if len(to) == 0 {
		return nil
	}

	from := m.config.From
	if m.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.config.FromName, m.config.From)
	}

	boundary := "boundary-cadence"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	// Plain text part (fallback)
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", subject)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return m.send(m.server, m.auth, m.config.From, to, msg.Bytes())
}

// dayLabel renders a calendar day for humans, e.g. "Thu 14 Mar 2024".
func dayLabel(day time.Time) string {
	return day.Format("Mon 2 Jan 2006")
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const moveNoticeTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.ItemTitle}} scheduled</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>{{if .Actor}}{{.Actor}}{{else}}A teammate{{end}} scheduled <strong>{{.ItemTitle}}</strong> on the {{.Instance}} calendar for <strong>{{.Day}}</strong>.</p>
{{if .BoardURL}}
    <p>
        <a href="{{.BoardURL}}" class="button">Open the calendar</a>
    </p>
{{end}}
    <div class="footer">
        <p>You receive this because you collaborate on project {{.ProjectID}}.</p>
    </div>
</body>
</html>`
