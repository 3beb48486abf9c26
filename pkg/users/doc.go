// Package users manages tenant and platform user accounts.
//
// # Overview
//
// The Service runs every mutation in one store transaction: it loads the actor,
// asks the policy evaluator, applies the Guard's data invariants and writes an
// audit entry. The Guard holds the rules that apply regardless of who acts:
// role scope must match the presence of a tenant, the platform role is granted
// only by platform staff, and every tenant keeps an owner.
//
// Activating a user or creating one directly takes a seat. Impersonation
// requires a step-up re-authentication on the current session within the
// tracker's window and cannot be nested.
//
// # Usage Example
//
//	svc := users.NewService(st, auditWriter,
//		users.WithReauthTracker(tracker),
//		users.WithMetrics(metrics),
//	)
//
//	u, err := svc.ChangeUserRole(ctx, sess, actorID, targetID, roles.IDTenantAdmin)
//	if domainerr.HasCode(err, domainerr.CodeLastOwnerViolation) {
//		// promote someone else first
//	}
//
// # Related Packages
//
//   - pkg/policy: Authorization decisions
//   - pkg/seats: Seat accounting on activation
//   - pkg/reauth: Step-up tracking for impersonation
package users
