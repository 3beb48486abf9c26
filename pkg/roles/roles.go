package roles

// Slug identifies a role in the fixed catalog
type Slug string

const (
	PlatformSuperAdmin Slug = "platform_super_admin"
	TenantOwner        Slug = "tenant_owner"
	TenantAdmin        Slug = "tenant_admin"
	TenantEditor       Slug = "tenant_editor"
	TenantViewer       Slug = "tenant_viewer"
)

// Scope says whether a role applies platform-wide or inside one tenant
type Scope string

const (
	ScopePlatform Scope = "platform"
	ScopeTenant   Scope = "tenant"
)

// Role is one row of the seeded role catalog
type Role struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Slug  Slug   `json:"slug"`
	Scope Scope  `json:"scope"`
}

// Catalog IDs match the rows seeded by the initial migration.
const (
	IDPlatformSuperAdmin int64 = 1
	IDTenantOwner        int64 = 2
	IDTenantAdmin        int64 = 3
	IDTenantEditor       int64 = 4
	IDTenantViewer       int64 = 5
)

var catalog = []Role{
	{ID: IDPlatformSuperAdmin, Name: "Platform Super Admin", Slug: PlatformSuperAdmin, Scope: ScopePlatform},
	{ID: IDTenantOwner, Name: "Tenant Owner", Slug: TenantOwner, Scope: ScopeTenant},
	{ID: IDTenantAdmin, Name: "Tenant Admin", Slug: TenantAdmin, Scope: ScopeTenant},
	{ID: IDTenantEditor, Name: "Tenant Editor", Slug: TenantEditor, Scope: ScopeTenant},
	{ID: IDTenantViewer, Name: "Tenant Viewer", Slug: TenantViewer, Scope: ScopeTenant},
}

// Catalog returns a copy of the five built-in roles
func Catalog() []Role {
	out := make([]Role, len(catalog))
	copy(out, catalog)
	return out
}

// ByID looks up a catalog role by its ID
func ByID(id int64) (Role, bool) {
	for _, r := range catalog {
		if r.ID == id {
			return r, true
		}
	}
	return Role{}, false
}

// BySlug looks up a catalog role by its slug
func BySlug(slug Slug) (Role, bool) {
	for _, r := range catalog {
		if r.Slug == slug {
			return r, true
		}
	}
	return Role{}, false
}

// MustID returns the catalog ID for slug and panics on unknown slugs.
func MustID(slug Slug) int64 {
	r, ok := BySlug(slug)
	if !ok {
		panic("roles: unknown slug " + string(slug))
	}
	return r.ID
}

// Valid reports whether s is one of the catalog slugs
func (s Slug) Valid() bool {
	switch s {
	case PlatformSuperAdmin, TenantOwner, TenantAdmin, TenantEditor, TenantViewer:
		return true
	}
	return false
}

// ScopeOf returns the scope of a role. Unknown slugs are treated as tenant scope.
func ScopeOf(s Slug) Scope {
	if s == PlatformSuperAdmin {
		return ScopePlatform
	}
	return ScopeTenant
}

// Rank orders roles for management decisions. Editor and viewer share a rank:
// neither outranks the other.
func Rank(s Slug) int {
	switch s {
	case PlatformSuperAdmin:
		return 100
	case TenantOwner:
		return 30
	case TenantAdmin:
		return 20
	case TenantEditor, TenantViewer:
		return 10
	default:
		return 0
	}
}

// Outranks reports whether a ranks strictly above b
func Outranks(a, b Slug) bool {
	return Rank(a) > Rank(b)
}

// IsPlatformSuperAdmin reports whether s is the platform role
func IsPlatformSuperAdmin(s Slug) bool {
	return s == PlatformSuperAdmin
}
