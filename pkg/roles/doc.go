// Package roles holds the fixed role catalog of the back office.
//
// # Hierarchy
//
// The catalog has exactly one platform-scope role and four tenant-scope roles:
//
//	platform_super_admin   platform   (no tenant)
//	tenant_owner           tenant     rank 30
//	tenant_admin           tenant     rank 20
//	tenant_editor          tenant     rank 10
//	tenant_viewer          tenant     rank 10
//
// Editor and viewer are unordered peers. The catalog is seeded once by the
// initial migration with the IDs exported here and never changes at runtime.
//
// # Usage Example
//
//	role, ok := roles.ByID(user.RoleID)
//	if ok && roles.Outranks(actorRole, role.Slug) {
//		// actor may manage the user
//	}
//
// # Related Packages
//
//   - pkg/policy: Uses Rank and ScopeOf to decide actor/target permissions
//   - pkg/users: Enforces scope consistency on role assignment
package roles
