package audit

import (
	"reflect"
	"sort"
	"strconv"

	"github.com/platinummonkey/backoffice/pkg/models"
)

// Builder assembles an entry before the Writer enriches, redacts and persists it.
//
//	b := audit.NewEntry(audit.ActionUserRoleChanged).
//		Actor(actor).
//		Subject(audit.SubjectUser, target.ID).
//		Tenant(target.TenantID).
//		Change("role", "tenant_owner", "tenant_admin")
type Builder struct {
	action        Action
	actorID       *int64
	actorTenantID *int64
	subjectType   SubjectType
	subjectID     string
	tenantID      *int64
	changes       map[string]Change
	extra         map[string]interface{}
}

// NewEntry starts an entry for action. Without a call to Actor the entry is
// attributed to the system.
func NewEntry(action Action) *Builder {
	return &Builder{action: action}
}

// Actor attributes the entry to u and records u's own tenant
func (b *Builder) Actor(u *models.User) *Builder {
	if u == nil {
		b.actorID, b.actorTenantID = nil, nil
		return b
	}
	b.actorID = models.Int64Ptr(u.ID)
	b.actorTenantID = copyInt64(u.TenantID)
	return b
}

// Subject sets the weak reference to the affected entity
func (b *Builder) Subject(typ SubjectType, id int64) *Builder {
	b.subjectType = typ
	b.subjectID = strconv.FormatInt(id, 10)
	return b
}

// Tenant sets the tenant of the affected entity
func (b *Builder) Tenant(tenantID *int64) *Builder {
	b.tenantID = copyInt64(tenantID)
	return b
}

// Change records one field transition
func (b *Builder) Change(field string, old, new interface{}) *Builder {
	if b.changes == nil {
		b.changes = make(map[string]Change)
	}
	b.changes[field] = Change{Old: old, New: new}
	return b
}

// Diff records every key whose value differs between before and after
func (b *Builder) Diff(before, after map[string]interface{}) *Builder {
	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}
	for _, k := range sortedKeys(keys) {
		if !reflect.DeepEqual(before[k], after[k]) {
			b.Change(k, before[k], after[k])
		}
	}
	return b
}

// With adds free-form metadata. Enrichment fields cannot be set this way.
func (b *Builder) With(key string, value interface{}) *Builder {
	if b.extra == nil {
		b.extra = make(map[string]interface{})
	}
	b.extra[key] = value
	return b
}

// Build returns the entry as assembled so far, without enrichment or redaction
func (b *Builder) Build() *Entry {
	e := &Entry{
		ActorID:     copyInt64(b.actorID),
		Action:      b.action,
		SubjectType: b.subjectType,
		SubjectID:   b.subjectID,
		Meta: Meta{
			TenantID:      copyInt64(b.tenantID),
			ActorTenantID: copyInt64(b.actorTenantID),
		},
	}
	if len(b.changes) > 0 {
		e.Meta.Changes = make(map[string]Change, len(b.changes))
		for k, v := range b.changes {
			e.Meta.Changes[k] = v
		}
	}
	if len(b.extra) > 0 {
		e.Meta.Extra = make(map[string]interface{}, len(b.extra))
		for k, v := range b.extra {
			e.Meta.Extra[k] = v
		}
	}
	return e
}

func copyInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
