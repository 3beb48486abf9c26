package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/backoffice/pkg/domainerr"
	"github.com/platinummonkey/backoffice/pkg/models"
	"github.com/platinummonkey/backoffice/pkg/observability"
	"github.com/platinummonkey/backoffice/pkg/session"
)

type recordingAppender struct {
	entries []*Entry
	err     error
}

func (a *recordingAppender) AppendAudit(_ context.Context, e *Entry) error {
	if a.err != nil {
		return a.err
	}
	e.ID = int64(len(a.entries) + 1)
	a.entries = append(a.entries, e)
	return nil
}

type stubReauth struct {
	recent map[string]bool
	err    error
}

func (s stubReauth) Recent(_ context.Context, userID int64, sessionID string) (bool, error) {
	return s.recent[sessionID], s.err
}

const chromeOnMac = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func TestWriter_Record(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	writer := NewWriter(
		WithClock(clock),
		WithReauthChecker(stubReauth{recent: map[string]bool{"sess-1": true}}),
	)
	app := &recordingAppender{}

	actor := &models.User{ID: 1, RoleID: 1}
	impersonator := int64(99)
	sess := session.Session{
		ID:             "sess-1",
		ImpersonatorID: &impersonator,
		RequestID:      "req-42",
		IPAddress:      "203.0.113.7",
		UserAgent:      chromeOnMac,
	}

	b := NewEntry(ActionUserRoleChanged).
		Actor(actor).
		Subject(SubjectUser, 12).
		Tenant(models.Int64Ptr(3)).
		Change("role", "tenant_owner", "tenant_admin").
		With("reason", "reorg")

	entry, err := writer.Record(context.Background(), app, sess, b)
	require.NoError(t, err)
	require.Len(t, app.entries, 1)

	assert.Equal(t, int64(1), entry.ID)
	assert.Equal(t, int64(1), *entry.ActorID)
	assert.Equal(t, "12", entry.SubjectID)
	assert.Equal(t, clock.Now(), entry.CreatedAt)

	m := entry.Meta
	assert.Equal(t, int64(3), *m.TenantID)
	assert.Nil(t, m.ActorTenantID, "platform actor has no tenant")
	assert.True(t, m.Impersonated)
	assert.Equal(t, int64(99), *m.ImpersonatorID)
	assert.Equal(t, "req-42", m.RequestID)
	assert.Equal(t, "203.0.113.7", m.IPAddress)
	assert.Contains(t, m.Device, "Chrome on")
	assert.Contains(t, m.Device, "Mac OS X")
	assert.True(t, m.RecentReauth)
	assert.Equal(t, Change{Old: "tenant_owner", New: "tenant_admin"}, m.Changes["role"])
	assert.Equal(t, "reorg", m.Extra["reason"])
}

func TestWriter_RecordReauthFlag(t *testing.T) {
	app := &recordingAppender{}
	actor := &models.User{ID: 5, TenantID: models.Int64Ptr(2)}

	t.Run("other session is not recent", func(t *testing.T) {
		writer := NewWriter(WithReauthChecker(stubReauth{recent: map[string]bool{"sess-1": true}}))
		entry, err := writer.Record(context.Background(), app, session.Session{ID: "sess-2"},
			NewEntry(ActionUserStatusChanged).Actor(actor).Subject(SubjectUser, 6))
		require.NoError(t, err)
		assert.False(t, entry.Meta.RecentReauth)
		assert.Equal(t, int64(2), *entry.Meta.ActorTenantID)
	})

	t.Run("lookup error records false", func(t *testing.T) {
		writer := NewWriter(WithReauthChecker(stubReauth{recent: map[string]bool{"sess-1": true}, err: errors.New("redis down")}))
		entry, err := writer.Record(context.Background(), app, session.Session{ID: "sess-1"},
			NewEntry(ActionUserStatusChanged).Actor(actor).Subject(SubjectUser, 6))
		require.NoError(t, err)
		assert.False(t, entry.Meta.RecentReauth)
	})

	t.Run("system entries never claim reauth", func(t *testing.T) {
		writer := NewWriter(WithReauthChecker(stubReauth{recent: map[string]bool{"sess-1": true}}))
		entry, err := writer.Record(context.Background(), app, session.Session{ID: "sess-1"},
			NewEntry(ActionInvitationExpired).Subject(SubjectInvitation, 6))
		require.NoError(t, err)
		assert.Nil(t, entry.ActorID)
		assert.False(t, entry.Meta.RecentReauth)
	})
}

func TestWriter_RecordRedactsSensitiveFields(t *testing.T) {
	writer := NewWriter(WithSensitiveKeys("ssn"))
	app := &recordingAppender{}

	secrets := []string{"hunter2", "correct-horse", "tok_abc123", "sk_live_999", "123-45-6789", "Bearer xyz"}
	b := NewEntry(ActionUserCreated).
		Subject(SubjectUser, 1).
		Change("password", nil, "hunter2").
		Change("password_hash", "correct-horse", "$2a$10$abc").
		Change("invitation_token", "tok_abc123", nil).
		Change("name", "Ada", "Ada L.").
		Change("settings", map[string]interface{}{"api_key": "sk_live_999", "theme": "dark"}, nil).
		With("SSN", "123-45-6789").
		With("headers", map[string]string{"Authorization": "Bearer xyz"})

	entry, err := writer.Record(context.Background(), app, session.Session{}, b)
	require.NoError(t, err)

	raw, err := json.Marshal(app.entries[0])
	require.NoError(t, err)
	for _, s := range secrets {
		assert.NotContains(t, string(raw), s)
	}

	assert.Equal(t, Change{Old: Mask, New: Mask}, entry.Meta.Changes["password"])
	assert.Equal(t, Change{Old: "Ada", New: "Ada L."}, entry.Meta.Changes["name"])
	settings := entry.Meta.Changes["settings"].Old.(map[string]interface{})
	assert.Equal(t, Mask, settings["api_key"])
	assert.Equal(t, "dark", settings["theme"])
}

func TestWriter_RecordDoesNotMutateBuilder(t *testing.T) {
	writer := NewWriter()
	b := NewEntry(ActionUserCreated).Subject(SubjectUser, 1).Change("password", "a", "b")

	_, err := writer.Record(context.Background(), &recordingAppender{}, session.Session{}, b)
	require.NoError(t, err)

	assert.Equal(t, "b", b.Build().Meta.Changes["password"].New)
}

func TestWriter_RecordFailures(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	writer := NewWriter(WithMetrics(metrics))

	t.Run("store rejection is returned", func(t *testing.T) {
		app := &recordingAppender{err: errors.New("disk full")}
		entry, err := writer.Record(context.Background(), app, session.Session{},
			NewEntry(ActionTenantCreated).Subject(SubjectTenant, 1))
		require.Error(t, err)
		assert.Nil(t, entry)
		assert.Contains(t, err.Error(), "disk full")
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuditWritesTotal.WithLabelValues("tenant.created", "error")))
	})

	t.Run("missing subject is invalid", func(t *testing.T) {
		_, err := writer.Record(context.Background(), &recordingAppender{}, session.Session{}, NewEntry(ActionTenantCreated))
		assert.True(t, domainerr.HasCode(err, domainerr.CodeInvalidInput))
	})
}

func TestDescribeDevice(t *testing.T) {
	assert.Equal(t, "", DescribeDevice(""))
	assert.Contains(t, DescribeDevice(chromeOnMac), "Chrome on")
}
