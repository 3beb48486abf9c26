package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/backoffice/pkg/audit"
	"github.com/platinummonkey/backoffice/pkg/domainerr"
	"github.com/platinummonkey/backoffice/pkg/httputil"
	"github.com/platinummonkey/backoffice/pkg/invitations"
	"github.com/platinummonkey/backoffice/pkg/observability"
	"github.com/platinummonkey/backoffice/pkg/roles"
	"github.com/platinummonkey/backoffice/pkg/seats"
	"github.com/platinummonkey/backoffice/pkg/store"
	"github.com/platinummonkey/backoffice/pkg/tenants"
	"github.com/platinummonkey/backoffice/pkg/users"
)

// DefaultMaxBodyBytes bounds request bodies
const DefaultMaxBodyBytes = 1 << 20

// Services are the operations exposed over HTTP
type Services struct {
	Tenants     *tenants.Service
	Users       *users.Service
	Invitations *invitations.Service
	Seats       *seats.Service
	Audit       audit.Source
}

// Server represents our API server
type Server struct {
	store        store.Store
	services     Services
	router       *mux.Router
	handler      http.Handler
	logger       *observability.Logger
	metrics      *observability.Metrics
	maxBodyBytes int64
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the request and error logger
func WithLogger(l *observability.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics enables Prometheus HTTP metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) { s.maxBodyBytes = n }
}

// NewServer creates a new API server. st is used to resolve the caller for
// audit scoping; every other read and write goes through services.
func NewServer(st store.Store, services Services, opts ...Option) *Server {
	s := &Server{
		store:        st,
		services:     services,
		router:       mux.NewRouter(),
		logger:       observability.NopLogger(),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()

	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		observability.RecoveryMiddleware(s.logger),
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(s.maxBodyBytes),
	)
	s.handler = otelhttp.NewHandler(chain(s.router), "backoffice.http")
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics, routeTemplate))
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, domainerr.CodeNotFound, "route not found")
	})

	v1 := s.router.PathPrefix("/v1").Subrouter()

	// Public
	v1.HandleFunc("/roles", s.listRoles).Methods(http.MethodGet)
	v1.HandleFunc("/invitations/accept", s.acceptInvitation).Methods(http.MethodPost)

	private := v1.NewRoute().Subrouter()
	private.Use(s.requireCaller)

	// Session
	private.HandleFunc("/session/reauth", s.reauthenticate).Methods(http.MethodPost)

	// Tenants
	private.HandleFunc("/tenants", s.createTenant).Methods(http.MethodPost)
	private.HandleFunc("/tenants", s.listTenants).Methods(http.MethodGet)
	private.HandleFunc("/tenants/{id}", s.getTenant).Methods(http.MethodGet)
	private.HandleFunc("/tenants/{id}", s.updateTenant).Methods(http.MethodPatch)
	private.HandleFunc("/tenants/{id}", s.deleteTenant).Methods(http.MethodDelete)
	private.HandleFunc("/tenants/{id}/seat-limit", s.updateSeatLimit).Methods(http.MethodPut)
	private.HandleFunc("/tenants/{id}/suspend", s.suspendTenant).Methods(http.MethodPost)
	private.HandleFunc("/tenants/{id}/resume", s.resumeTenant).Methods(http.MethodPost)
	private.HandleFunc("/tenants/{id}/seats", s.getSeats).Methods(http.MethodGet)
	private.HandleFunc("/tenants/{id}/users", s.listUsers).Methods(http.MethodGet)

	// Users
	private.HandleFunc("/users", s.createUser).Methods(http.MethodPost)
	private.HandleFunc("/users/{id}", s.getUser).Methods(http.MethodGet)
	private.HandleFunc("/users/{id}/role", s.changeUserRole).Methods(http.MethodPut)
	private.HandleFunc("/users/{id}/status", s.changeUserStatus).Methods(http.MethodPut)
	private.HandleFunc("/users/{id}/impersonate", s.impersonate).Methods(http.MethodPost)

	// Invitations
	private.HandleFunc("/invitations", s.createInvitation).Methods(http.MethodPost)
	private.HandleFunc("/invitations", s.listInvitations).Methods(http.MethodGet)
	private.HandleFunc("/invitations/{id}", s.getInvitation).Methods(http.MethodGet)
	private.HandleFunc("/invitations/{id}/resend", s.resendInvitation).Methods(http.MethodPost)
	private.HandleFunc("/invitations/{id}/cancel", s.cancelInvitation).Methods(http.MethodPost)

	// Audit trail
	if s.services.Audit != nil {
		audit.NewHandlers(s.services.Audit, s.auditScope).RegisterRoutes(private)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// routeTemplate labels a request by its matched route
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// listRoles handles GET /v1/roles
func (s *Server) listRoles(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{"roles": roles.Catalog()})
}
