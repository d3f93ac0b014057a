package models

type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleSales Role = "SALES"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleSales
}

// Principal is the authenticated caller of the visit API.
type Principal struct {
	UserID string
	Role   Role
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// AuditEntry is one row of the audit trail.
type AuditEntry struct {
	UserID    string
	Action    string
	IP        string
	UserAgent string
	Metadata  map[string]any
}
