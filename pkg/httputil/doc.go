// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// Handlers decode with ParseJSON, answer with WriteJSON and report failures
// with WriteError, which derives the status from the error's domain code.
//
// # Error Mapping
//
//	invalid_input, scope_mismatch        400
//	reauth_required                      401
//	forbidden and its variants           403
//	not_found                            404
//	invalid_or_expired                   410
//	last_owner_violation, seat_limit...  409
//	cooldown_active                      429
//	anything else                        500, message masked
//
// # Request Parsing
//
//	var req createInvitationRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.ContentTypeMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// # Related Packages
//
//   - pkg/api: Route handlers built on these helpers
//   - pkg/domainerr: Error codes mapped to statuses
package httputil
