// Package audit records one immutable entry per privileged mutation.
//
// # Overview
//
// Entries are assembled with a Builder, then handed to Writer.Record together
// with the Appender of the current store transaction. The writer:
//
//   - stamps the request context (request id, IP, user agent and parsed device)
//   - records the impersonator when the session is an impersonation
//   - sets the recent re-authentication flag for the actor's session
//   - masks sensitive keys in changes and extra metadata
//
// and appends the entry. Because the append runs on the caller's transaction, a
// failed audit write rolls the mutation back with it.
//
// # Usage Example
//
//	err := st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
//		if err := tx.UpdateUserRole(ctx, target.ID, newRole, now); err != nil {
//			return err
//		}
//		_, err := writer.Record(ctx, tx, sess, audit.NewEntry(audit.ActionUserRoleChanged).
//			Actor(actor).
//			Subject(audit.SubjectUser, target.ID).
//			Tenant(target.TenantID).
//			Change("role", "tenant_owner", "tenant_admin"))
//		return err
//	})
//
// # Reading
//
// Reader searches, summarizes and exports the audit_logs table (JSON, NDJSON,
// CSV). It has no update or delete methods.
//
// # Related Packages
//
//   - pkg/reauth: Step-up re-authentication tracking
//   - pkg/store: Transactions implementing Appender
package audit
