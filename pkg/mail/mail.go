// Package mail delivers invitation emails.
//
// The invitation lifecycle depends only on Dispatcher. SMTPDispatcher sends
// through an SMTP relay, LogDispatcher writes the message to the log instead,
// and Recorder keeps messages in memory for tests.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"
	"text/template"
	"time"

	gomail "github.com/go-mail/mail"

	"github.com/platinummonkey/backoffice/pkg/observability"
)

// InvitationEmail is the data needed to render one invitation message
type InvitationEmail struct {
	To          string
	TenantName  string
	RoleName    string
	InviterName string
	Token       string
	ExpiresAt   time.Time
	Reopened    bool
}

// Dispatcher sends invitation emails
type Dispatcher interface {
	Send(ctx context.Context, msg InvitationEmail) error
}

// Renderer builds subject and body of an invitation message
type Renderer struct {
	acceptURL string
	body      *template.Template
}

const defaultBody = `Hello,

{{if .InviterName}}{{.InviterName}} has invited you{{else}}You have been invited{{end}} to join {{if .TenantName}}{{.TenantName}}{{else}}the platform{{end}} as {{.RoleName}}.

Accept the invitation: {{.Link}}

This link expires on {{.ExpiresAt.Format "2006-01-02 15:04 MST"}}.
`

// NewRenderer creates a renderer linking to acceptURL with the token appended
// as the token query parameter
func NewRenderer(acceptURL string) (*Renderer, error) {
	if _, err := url.Parse(acceptURL); err != nil {
		return nil, fmt.Errorf("invalid accept url: %w", err)
	}
	tmpl, err := template.New("invitation").Parse(defaultBody)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return &Renderer{acceptURL: acceptURL, body: tmpl}, nil
}

// Link returns the acceptance link for token
func (r *Renderer) Link(token string) string {
	u, err := url.Parse(r.acceptURL)
	if err != nil {
		return r.acceptURL
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// Render returns the subject and plain text body of msg
func (r *Renderer) Render(msg InvitationEmail) (string, string, error) {
	subject := "You have been invited"
	if msg.TenantName != "" {
		subject = fmt.Sprintf("You have been invited to %s", msg.TenantName)
	}

	var buf bytes.Buffer
	err := r.body.Execute(&buf, struct {
		InvitationEmail
		Link string
	}{msg, r.Link(msg.Token)})
	if err != nil {
		return "", "", fmt.Errorf("failed to render invitation: %w", err)
	}
	return subject, buf.String(), nil
}

// SMTPConfig configures SMTPDispatcher
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	TLSMode            string // auto, starttls, ssl or none
	InsecureSkipVerify bool
}

// SMTPDispatcher sends invitation emails over SMTP
type SMTPDispatcher struct {
	cfg      SMTPConfig
	renderer *Renderer
	logger   *observability.Logger
}

// NewSMTPDispatcher creates an SMTP dispatcher
func NewSMTPDispatcher(cfg SMTPConfig, renderer *Renderer, logger *observability.Logger) *SMTPDispatcher {
	if cfg.TLSMode == "" {
		cfg.TLSMode = "auto"
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &SMTPDispatcher{cfg: cfg, renderer: renderer, logger: logger}
}

// Message builds the MIME message for msg without sending it
func (d *SMTPDispatcher) Message(msg InvitationEmail) (*gomail.Message, error) {
	subject, body, err := d.renderer.Render(msg)
	if err != nil {
		return nil, err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", d.cfg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	return m, nil
}

// Send renders and delivers msg. The SMTP exchange does not observe ctx
// cancellation once started.
func (d *SMTPDispatcher) Send(ctx context.Context, msg InvitationEmail) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := d.Message(msg)
	if err != nil {
		return err
	}

	dialer := gomail.NewDialer(d.cfg.Host, d.cfg.Port, d.cfg.Username, d.cfg.Password)
	dialer.TLSConfig = &tls.Config{
		ServerName:         d.cfg.Host,
		InsecureSkipVerify: d.cfg.InsecureSkipVerify,
	}
	switch d.cfg.TLSMode {
	case "ssl":
		dialer.SSL = true
	case "none":
		dialer.StartTLSPolicy = gomail.NoStartTLS
	}

	log := d.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"smtp_host": d.cfg.Host,
		"to":        msg.To,
	})
	if err := dialer.DialAndSend(m); err != nil {
		log.WithError(err).Error("smtp send failed")
		return fmt.Errorf("failed to send invitation email: %w", err)
	}
	log.Debug("invitation email sent")
	return nil
}

// LogDispatcher logs invitation emails instead of sending them
type LogDispatcher struct {
	renderer *Renderer
	logger   *observability.Logger
}

// NewLogDispatcher creates a log-only dispatcher
func NewLogDispatcher(renderer *Renderer, logger *observability.Logger) *LogDispatcher {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogDispatcher{renderer: renderer, logger: logger}
}

// Send logs the recipient and acceptance link
func (d *LogDispatcher) Send(ctx context.Context, msg InvitationEmail) error {
	subject, _, err := d.renderer.Render(msg)
	if err != nil {
		return err
	}
	d.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"to":      msg.To,
		"subject": subject,
		"link":    d.renderer.Link(msg.Token),
	}).Info("invitation email (not sent)")
	return nil
}

// Recorder keeps every sent message in memory
type Recorder struct {
	mu   sync.Mutex
	sent []InvitationEmail
	Err  error
}

// Send records msg, or returns Err when set
func (r *Recorder) Send(_ context.Context, msg InvitationEmail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, msg)
	return nil
}

// Sent returns a copy of the recorded messages
func (r *Recorder) Sent() []InvitationEmail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]InvitationEmail(nil), r.sent...)
}

// Count returns the number of recorded messages
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}
