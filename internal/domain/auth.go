package domain

// Role differentiates callers of the API.
type Role string

const (
	RoleCitizen Role = "CITIZEN"
	RoleClerk   Role = "CLERK"
	RoleAdmin   Role = "ADMIN"
)

// IsStaff reports whether the role operates counters.
func (r Role) IsStaff() bool {
	return r == RoleClerk || r == RoleAdmin
}
