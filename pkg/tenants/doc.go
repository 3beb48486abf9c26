// Package tenants manages the tenant lifecycle.
//
// Platform administrators create, suspend, resume and soft delete tenants.
// Tenant owners may rename their tenant and change its seat limit; a limit
// below the current number of active users is rejected. Slugs are derived from
// the name at creation and never change.
//
// # Usage Example
//
//	svc := tenants.NewService(st, auditWriter)
//	t, err := svc.Create(ctx, sess, staffID, tenants.CreateRequest{Name: "Acme Corp", SeatLimit: 25})
//	_, err = svc.UpdateSeatLimit(ctx, sess, ownerID, t.ID, 50)
package tenants
