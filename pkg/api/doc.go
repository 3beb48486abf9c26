// Package api exposes the back-office operations as a JSON HTTP API.
//
// # Overview
//
// Server routes /v1 requests to the tenants, users, invitations and seats
// services and mounts the audit trail handlers. It holds no business rules of
// its own: every permission check, seat check and audit write happens inside
// the service call.
//
// # Authentication
//
// The API runs behind an authenticating gateway. The gateway sets
//
//	X-Actor-ID         the authenticated user id (required)
//	X-Session-ID       the credential id, used for step-up re-authentication
//	X-Impersonator-ID  the real user when the credential is an impersonation
//
// and requireCaller turns them into a Caller with a session.Session that also
// carries the request id, client IP and user agent. Only GET /v1/roles and
// POST /v1/invitations/accept are reachable without an actor.
//
// # Routes
//
//	GET    /v1/roles
//	POST   /v1/session/reauth
//	POST   /v1/tenants                     GET /v1/tenants?include_deleted=
//	GET    /v1/tenants/{id}                PATCH /v1/tenants/{id}
//	DELETE /v1/tenants/{id}
//	PUT    /v1/tenants/{id}/seat-limit
//	POST   /v1/tenants/{id}/suspend        POST /v1/tenants/{id}/resume
//	GET    /v1/tenants/{id}/seats          GET /v1/tenants/{id}/users
//	POST   /v1/users                       GET /v1/users/{id}
//	PUT    /v1/users/{id}/role             PUT /v1/users/{id}/status
//	POST   /v1/users/{id}/impersonate
//	POST   /v1/invitations                 GET /v1/invitations?tenant_id=
//	GET    /v1/invitations/{id}
//	POST   /v1/invitations/{id}/resend     POST /v1/invitations/{id}/cancel
//	POST   /v1/invitations/accept
//	GET    /v1/audit/events                GET /v1/audit/export
//	GET    /v1/audit/stats
//
// # Errors
//
// Errors are written by httputil.WriteError from their domain code. A seat
// limit rejection adds used and limit to details; a resend inside the cooldown
// answers 429 with a Retry-After header.
//
// # Usage Example
//
//	server := api.NewServer(st, api.Services{
//		Tenants:     tenantSvc,
//		Users:       userSvc,
//		Invitations: invitationSvc,
//		Seats:       seatSvc,
//		Audit:       reader,
//	}, api.WithLogger(logger), api.WithMetrics(metrics))
//	http.ListenAndServe(":8080", server)
//
// # Related Packages
//
//   - pkg/httputil: Request parsing, error mapping and middleware
//   - pkg/observability: Logging, metrics and panic recovery
package api
