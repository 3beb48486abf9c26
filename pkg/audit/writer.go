package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/mssola/useragent"

	"github.com/platinummonkey/backoffice/pkg/domainerr"
	"github.com/platinummonkey/backoffice/pkg/observability"
	"github.com/platinummonkey/backoffice/pkg/session"
)

// Writer enriches, redacts and appends audit entries
type Writer struct {
	redactor *Redactor
	reauth   ReauthChecker
	clock    clockwork.Clock
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// Option configures a Writer
type Option func(*Writer)

// WithReauthChecker enables the recent re-authentication flag
func WithReauthChecker(c ReauthChecker) Option {
	return func(w *Writer) { w.reauth = c }
}

// WithSensitiveKeys adds keys to the default redaction list
func WithSensitiveKeys(keys ...string) Option {
	return func(w *Writer) { w.redactor = NewRedactor(keys...) }
}

// WithClock overrides the clock used for CreatedAt
func WithClock(c clockwork.Clock) Option {
	return func(w *Writer) { w.clock = c }
}

// WithLogger sets the writer's logger
func WithLogger(l *observability.Logger) Option {
	return func(w *Writer) { w.logger = l }
}

// WithMetrics enables audit write metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(w *Writer) { w.metrics = m }
}

// NewWriter creates a writer
func NewWriter(opts ...Option) *Writer {
	w := &Writer{
		redactor: NewRedactor(),
		clock:    clockwork.NewRealClock(),
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Record builds the entry, enriches it from sess, redacts it and appends it
// through app. An append failure is returned so the caller's transaction rolls
// back.
func (w *Writer) Record(ctx context.Context, app Appender, sess session.Session, b *Builder) (*Entry, error) {
	entry := b.Build()
	if entry.Action == "" || entry.SubjectType == "" {
		return nil, domainerr.New(domainerr.CodeInvalidInput, "audit entry requires an action and a subject")
	}
	entry.CreatedAt = w.clock.Now().UTC()

	w.enrich(ctx, entry, sess)
	w.redactor.RedactMeta(&entry.Meta)

	start := w.clock.Now()
	err := app.AppendAudit(ctx, entry)
	w.metrics.RecordAuditWrite(string(entry.Action), err, w.clock.Since(start))
	if err != nil {
		w.logger.WithContext(ctx).WithError(err).WithField("action", entry.Action).Error("audit write failed")
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}
	return entry, nil
}

// enrich overwrites request-derived fields. Callers cannot set them through the builder.
func (w *Writer) enrich(ctx context.Context, entry *Entry, sess session.Session) {
	m := &entry.Meta
	m.Impersonated = sess.IsImpersonation()
	m.ImpersonatorID = copyInt64(sess.ImpersonatorID)
	m.RequestID = sess.RequestID
	if m.RequestID == "" {
		m.RequestID = observability.GetRequestID(ctx)
	}
	m.IPAddress = sess.IPAddress
	m.UserAgent = sess.UserAgent
	m.Device = DescribeDevice(sess.UserAgent)

	m.RecentReauth = false
	if w.reauth != nil && entry.ActorID != nil && sess.ID != "" {
		ok, err := w.reauth.Recent(ctx, *entry.ActorID, sess.ID)
		if err != nil {
			w.logger.WithContext(ctx).WithError(err).Warn("reauth lookup failed, recording as not recent")
		}
		m.RecentReauth = ok && err == nil
	}
}

// DescribeDevice renders a user agent as "Browser on OS". Empty input yields "".
func DescribeDevice(userAgent string) string {
	if userAgent == "" {
		return ""
	}
	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	os := ua.OS()
	if ua.Mobile() && ua.Platform() != "" {
		os = ua.Platform()
	}
	if browser == "" {
		browser = "Unknown Browser"
	}
	if os == "" {
		os = "Unknown OS"
	}
	return strings.TrimSpace(browser + " on " + os)
}
