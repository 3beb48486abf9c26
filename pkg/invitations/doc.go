// Package invitations implements the invitation lifecycle.
//
// # Overview
//
// An invitation moves through a small state machine:
//
//	pending ──accept──▶ accepted
//	   │  ╲
//	cancel  expiry (derived, or stored by ExpireStale)
//	   ▼      ▼
//	cancelled  expired ──resend──▶ pending (new token)
//
// Accepted and cancelled are terminal for the token. Resending a cancelled or
// expired invitation reopens the record with a fresh token; resending a live one
// only extends its expiry. Resends are throttled by a cooldown measured from
// the last send.
//
// Invitations do not hold a seat. The authoritative seat check runs at
// acceptance while the tenant row is locked, so concurrent acceptances cannot
// overshoot the limit. A failed check leaves the invitation pending.
//
// Every operation is one store transaction covering the policy check, the
// preconditions, the write, the audit entry and the email dispatch. If the
// email cannot be handed to the dispatcher, nothing is committed.
//
// # Usage Example
//
//	svc := invitations.NewService(st, dispatcher, auditWriter,
//		invitations.WithCooldown(5*time.Minute),
//		invitations.WithMetrics(metrics),
//	)
//
//	inv, err := svc.Create(ctx, sess, actorID, invitations.CreateRequest{
//		TenantID: &tenantID,
//		Email:    "new.hire@example.com",
//		RoleID:   roles.IDTenantEditor,
//	})
//
//	_, err = svc.Resend(ctx, sess, actorID, inv.ID)
//	if invitations.IsCooldownActive(err) {
//		// tell the caller how long to wait
//	}
//
// # Related Packages
//
//   - pkg/seats: Seat checks at acceptance
//   - pkg/mail: Invitation email dispatch
//   - pkg/audit: Entries for every transition
package invitations
