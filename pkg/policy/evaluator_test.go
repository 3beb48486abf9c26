package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/backoffice/pkg/domainerr"
	"github.com/platinummonkey/backoffice/pkg/models"
	"github.com/platinummonkey/backoffice/pkg/roles"
)

var (
	tenantA = models.Int64Ptr(1)
	tenantB = models.Int64Ptr(2)
)

func actor(id int64, role roles.Slug, tenantID *int64) Actor {
	return Actor{ID: id, Role: role, TenantID: tenantID, Status: models.UserStatusActive}
}

func userTarget(id int64, role roles.Slug, tenantID *int64) Target {
	return Target{Kind: KindUser, ID: id, Role: role, TenantID: tenantID}
}

// allTargets enumerates a representative target for every kind and role
func allTargets() []Target {
	var out []Target
	id := int64(100)
	for _, r := range roles.Catalog() {
		for _, tid := range []*int64{nil, tenantA, tenantB} {
			id++
			out = append(out, userTarget(id, r.Slug, tid))
			out = append(out, Target{Kind: KindInvitation, ID: id, Role: r.Slug, TenantID: tid})
		}
	}
	out = append(out, TenantTarget(1), TenantTarget(2), ThemeTarget(9, 1), ThemeTarget(9, 2))
	out = append(out, Target{Kind: KindTenant})
	return out
}

func TestEvaluatePlatformBypass(t *testing.T) {
	statuses := []models.UserStatus{
		models.UserStatusActive, models.UserStatusSuspended, models.UserStatusLocked,
	}
	for _, status := range statuses {
		a := Actor{ID: 1, Role: roles.PlatformSuperAdmin, Status: status}
		for _, action := range Actions() {
			for _, target := range append(allTargets(), userTarget(1, roles.PlatformSuperAdmin, nil)) {
				d := Evaluate(a, action, target)
				assert.True(t, d.Allowed, "action=%s target=%+v", action, target)
				assert.Equal(t, ReasonPlatformBypass, d.Reason)
			}
		}
	}
}

func TestEvaluateNoSelfEscalation(t *testing.T) {
	for _, r := range roles.Catalog() {
		if r.Scope == roles.ScopePlatform {
			continue
		}
		a := actor(7, r.Slug, tenantA)
		self := userTarget(7, r.Slug, tenantA)

		for _, action := range []Action{ActionUpdateRole, ActionUpdateStatus, ActionSyncRoles} {
			d := Evaluate(a, action, self)
			assert.False(t, d.Allowed)
			assert.Equal(t, ReasonSelfChangeForbidden, d.Reason, "role=%s action=%s", r.Slug, action)
		}
	}
}

func TestEvaluateTenantBoundary(t *testing.T) {
	for _, r := range roles.Catalog() {
		if r.Scope == roles.ScopePlatform {
			continue
		}
		a := actor(7, r.Slug, tenantA)
		for _, action := range Actions() {
			for _, target := range allTargets() {
				if target.TenantID != nil && *target.TenantID == *tenantA {
					continue
				}
				d := Evaluate(a, action, target)
				assert.False(t, d.Allowed, "role=%s action=%s target=%+v", r.Slug, action, target)
			}
		}
	}
}

func TestEvaluateRankMonotonicity(t *testing.T) {
	admin := actor(7, roles.TenantAdmin, tenantA)
	management := []Action{ActionCreate, ActionUpdate, ActionUpdateRole, ActionUpdateStatus, ActionImpersonate, ActionDelete}

	for _, action := range management {
		for _, below := range []roles.Slug{roles.TenantEditor, roles.TenantViewer} {
			d := Evaluate(admin, action, userTarget(8, below, tenantA))
			assert.True(t, d.Allowed, "admin %s %s", action, below)
		}
		for _, above := range []roles.Slug{roles.TenantOwner, roles.TenantAdmin} {
			d := Evaluate(admin, action, userTarget(8, above, tenantA))
			assert.False(t, d.Allowed, "admin %s %s", action, above)
			assert.Equal(t, ReasonInsufficientRank, d.Reason)
		}
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		actor    Actor
		action   Action
		target   Target
		allowed  bool
		expected Reason
	}{
		{
			name:     "inactive actor denied",
			actor:    Actor{ID: 1, Role: roles.TenantOwner, TenantID: tenantA, Status: models.UserStatusSuspended},
			action:   ActionView,
			target:   userTarget(2, roles.TenantViewer, tenantA),
			expected: ReasonInactiveActor,
		},
		{
			name:     "owner manages another owner",
			actor:    actor(1, roles.TenantOwner, tenantA),
			action:   ActionUpdateRole,
			target:   userTarget(2, roles.TenantOwner, tenantA),
			allowed:  true,
			expected: ReasonTenantOwner,
		},
		{
			name:     "owner cannot touch platform admin",
			actor:    actor(1, roles.TenantOwner, tenantA),
			action:   ActionImpersonate,
			target:   userTarget(2, roles.PlatformSuperAdmin, nil),
			expected: ReasonPlatformAdminShielded,
		},
		{
			name:     "owner cannot grant platform role",
			actor:    actor(1, roles.TenantOwner, tenantA),
			action:   ActionUpdateRole,
			target:   Target{Kind: KindUser, ID: 2, Role: roles.TenantAdmin, ProposedRole: roles.PlatformSuperAdmin, TenantID: tenantA},
			expected: ReasonPlatformAdminShielded,
		},
		{
			name:     "admin cannot promote to admin",
			actor:    actor(1, roles.TenantAdmin, tenantA),
			action:   ActionUpdateRole,
			target:   Target{Kind: KindUser, ID: 2, Role: roles.TenantViewer, ProposedRole: roles.TenantAdmin, TenantID: tenantA},
			expected: ReasonInsufficientRank,
		},
		{
			name:     "admin invites an editor",
			actor:    actor(1, roles.TenantAdmin, tenantA),
			action:   ActionCreate,
			target:   InvitationTarget(0, tenantA, roles.IDTenantEditor),
			allowed:  true,
			expected: ReasonOutranksTarget,
		},
		{
			name:     "admin cannot invite an owner",
			actor:    actor(1, roles.TenantAdmin, tenantA),
			action:   ActionCreate,
			target:   InvitationTarget(0, tenantA, roles.IDTenantOwner),
			expected: ReasonInsufficientRank,
		},
		{
			name:     "editor is read only",
			actor:    actor(1, roles.TenantEditor, tenantA),
			action:   ActionUpdateStatus,
			target:   userTarget(2, roles.TenantViewer, tenantA),
			expected: ReasonReadOnlyRole,
		},
		{
			name:     "viewer reads same tenant user",
			actor:    actor(1, roles.TenantViewer, tenantA),
			action:   ActionView,
			target:   userTarget(2, roles.TenantOwner, tenantA),
			allowed:  true,
			expected: ReasonSameTenantRead,
		},
		{
			name:     "viewer changes own password",
			actor:    actor(1, roles.TenantViewer, tenantA),
			action:   ActionChangeOwnPassword,
			target:   userTarget(1, roles.TenantViewer, tenantA),
			allowed:  true,
			expected: ReasonSelfService,
		},
		{
			name:     "owner cannot change another user's own password",
			actor:    actor(1, roles.TenantOwner, tenantA),
			action:   ActionChangeOwnPassword,
			target:   userTarget(2, roles.TenantViewer, tenantA),
			expected: ReasonInsufficientRank,
		},
		{
			name:     "admin edits theme",
			actor:    actor(1, roles.TenantAdmin, tenantA),
			action:   ActionUpdate,
			target:   ThemeTarget(5, 1),
			allowed:  true,
			expected: ReasonOutranksTarget,
		},
		{
			name:     "editor cannot delete theme",
			actor:    actor(1, roles.TenantEditor, tenantA),
			action:   ActionDelete,
			target:   ThemeTarget(5, 1),
			expected: ReasonReadOnlyRole,
		},
		{
			name:     "viewer sees own theme",
			actor:    actor(1, roles.TenantViewer, tenantA),
			action:   ActionView,
			target:   ThemeTarget(5, 1),
			allowed:  true,
			expected: ReasonSameTenantRead,
		},
		{
			name:     "owner updates tenant",
			actor:    actor(1, roles.TenantOwner, tenantA),
			action:   ActionUpdate,
			target:   TenantTarget(1),
			allowed:  true,
			expected: ReasonOutranksTarget,
		},
		{
			name:     "admin cannot update tenant",
			actor:    actor(1, roles.TenantAdmin, tenantA),
			action:   ActionUpdate,
			target:   TenantTarget(1),
			expected: ReasonInsufficientRank,
		},
		{
			name:     "owner cannot suspend own tenant",
			actor:    actor(1, roles.TenantOwner, tenantA),
			action:   ActionUpdateStatus,
			target:   TenantTarget(1),
			expected: ReasonPlatformOnly,
		},
		{
			name:     "tenant actor without tenant is denied",
			actor:    actor(1, roles.TenantOwner, nil),
			action:   ActionView,
			target:   userTarget(2, roles.TenantViewer, tenantA),
			expected: ReasonCrossTenantForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.actor, tt.action, tt.target)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.expected, d.Reason)
		})
	}
}

func TestDecisionErr(t *testing.T) {
	assert.NoError(t, allow(ReasonTenantOwner).Err())

	tests := []struct {
		reason Reason
		code   domainerr.Code
	}{
		{ReasonSelfChangeForbidden, domainerr.CodeSelfChangeForbidden},
		{ReasonPlatformAdminShielded, domainerr.CodePlatformAdminShielded},
		{ReasonCrossTenantForbidden, domainerr.CodeCrossTenantForbidden},
		{ReasonInsufficientRank, domainerr.CodeForbidden},
		{ReasonReadOnlyRole, domainerr.CodeForbidden},
		{ReasonInactiveActor, domainerr.CodeForbidden},
	}
	for _, tt := range tests {
		err := deny(tt.reason).Err()
		require.Error(t, err)
		assert.Equal(t, tt.code, domainerr.CodeOf(err), tt.reason)
		assert.NotEmpty(t, err.Error())
	}
}

func TestSnapshots(t *testing.T) {
	u := &models.User{ID: 4, TenantID: tenantA, RoleID: roles.IDTenantAdmin, Status: models.UserStatusActive}

	a := ActorFromUser(u)
	assert.Equal(t, roles.TenantAdmin, a.Role)
	assert.Equal(t, models.UserStatusActive, a.Status)

	tg := UserTarget(u)
	assert.Equal(t, KindUser, tg.Kind)
	assert.Equal(t, roles.TenantAdmin, tg.Role)
	assert.Equal(t, tenantA, tg.TenantID)
}
