package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/platinummonkey/backoffice/pkg/domainerr"
	"github.com/platinummonkey/backoffice/pkg/httputil"
	"github.com/platinummonkey/backoffice/pkg/models"
	"github.com/platinummonkey/backoffice/pkg/observability"
	"github.com/platinummonkey/backoffice/pkg/roles"
	"github.com/platinummonkey/backoffice/pkg/session"
	"github.com/platinummonkey/backoffice/pkg/store"
)

// Identity headers set by the authenticating gateway in front of this service.
// Requests reaching the API directly must not be able to set them.
const (
	ActorIDHeader        = "X-Actor-ID"
	SessionIDHeader      = "X-Session-ID"
	ImpersonatorIDHeader = "X-Impersonator-ID"
)

// Caller is the authenticated actor of a request
type Caller struct {
	ActorID int64
	Session session.Session
}

type callerKey struct{}

// WithCaller stores c in ctx
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext returns the caller stored by requireCaller
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// requireCaller rejects requests without a valid actor header and stores the
// caller in the request context
func (s *Server) requireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actorID, err := parseID(r.Header.Get(ActorIDHeader))
		if err != nil {
			httputil.WriteUnauthorized(w, "missing or invalid "+ActorIDHeader+" header")
			return
		}

		sess := requestSession(r)
		if raw := r.Header.Get(ImpersonatorIDHeader); raw != "" {
			impersonatorID, err := parseID(raw)
			if err != nil {
				httputil.WriteUnauthorized(w, "invalid "+ImpersonatorIDHeader+" header")
				return
			}
			sess.ImpersonatorID = &impersonatorID
		}
		sess.ID = r.Header.Get(SessionIDHeader)

		ctx := WithCaller(r.Context(), Caller{ActorID: actorID, Session: sess})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestSession builds the request metadata recorded in audit entries
func requestSession(r *http.Request) session.Session {
	return session.Session{
		RequestID: observability.GetRequestID(r.Context()),
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func caller(r *http.Request) Caller {
	c, _ := CallerFromContext(r.Context())
	return c
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, strconv.ErrRange
	}
	return id, nil
}

// clientIP prefers the first X-Forwarded-For hop added by the gateway
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// auditScope lets platform staff read every entry and confines tenant owners
// and admins to their own tenant
func (s *Server) auditScope(r *http.Request) (*int64, error) {
	c := caller(r)
	var actor *models.User
	err := s.store.RunInTx(r.Context(), func(ctx context.Context, tx store.Tx) error {
		var err error
		actor, err = store.LoadActor(ctx, tx, c.ActorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if actor.Status != models.UserStatusActive {
		return nil, domainerr.New(domainerr.CodeForbidden, "actor is not active")
	}

	role, ok := roles.ByID(actor.RoleID)
	if !ok {
		return nil, domainerr.New(domainerr.CodeForbidden, "actor has an unknown role")
	}
	switch {
	case role.Scope == roles.ScopePlatform:
		return nil, nil
	case (role.Slug == roles.TenantOwner || role.Slug == roles.TenantAdmin) && actor.TenantID != nil:
		return actor.TenantID, nil
	default:
		return nil, domainerr.New(domainerr.CodeForbidden, "role cannot read the audit trail")
	}
}
