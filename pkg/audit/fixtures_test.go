package audit

import "time"

// sampleEntries is three Acme entries and one system entry for Globex. Entries
// 3 and 4 share a timestamp so ordering falls back to the id.
func sampleEntries() []*Entry {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	acme, globex := int64(1), int64(2)
	owner, admin := int64(10), int64(11)
	return []*Entry{
		{ID: 1, ActorID: &owner, Action: ActionUserRoleChanged, SubjectType: SubjectUser, SubjectID: "12",
			Meta: Meta{TenantID: &acme, RequestID: "req-1", Changes: map[string]Change{
				"role":   {Old: "tenant_owner", New: "tenant_admin"},
				"status": {Old: "active", New: "suspended"},
			}}, CreatedAt: t0},
		{ID: 2, ActorID: &admin, Action: ActionInvitationCreated, SubjectType: SubjectInvitation, SubjectID: "5",
			Meta: Meta{TenantID: &acme, Impersonated: true}, CreatedAt: t0.Add(time.Minute)},
		{ID: 3, Action: ActionInvitationExpired, SubjectType: SubjectInvitation, SubjectID: "6",
			Meta: Meta{TenantID: &globex}, CreatedAt: t0.Add(2 * time.Minute)},
		{ID: 4, ActorID: &owner, Action: ActionUserStatusChanged, SubjectType: SubjectUser, SubjectID: "12",
			Meta: Meta{TenantID: &acme}, CreatedAt: t0.Add(2 * time.Minute)},
	}
}

func ids(entries []*Entry) []int64 {
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
