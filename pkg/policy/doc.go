// Package policy decides whether an actor may perform an action on a target.
//
// Evaluate is a pure function of an actor snapshot, an action and a target
// snapshot. Rules are applied in order, first match wins:
//
//  1. Platform super admins are always allowed
//  2. Inactive actors are denied
//  3. Nobody changes their own role or status
//  4. Platform super admins cannot be targeted by tenant actors
//  5. Actor and target must belong to the same tenant
//  6. Owners manage anyone in their tenant, admins manage editors and viewers,
//     editors and viewers are read-only
//  7. Tenant and theme resources use the owning tenant and a role floor
//
// # Usage Example
//
//	d := policy.Evaluate(policy.ActorFromUser(actor), policy.ActionUpdateRole, policy.UserTarget(target))
//	if err := d.Err(); err != nil {
//		return err
//	}
package policy
