package domain

// Actor describes the already-authenticated caller of an operation.
// Identity issuance lives outside the core; handlers receive the decoded
// descriptor and services check capabilities against it. Roles are a
// closed set of tags, not a hierarchy.
type Actor struct {
	ID       string
	Role     Role
	Approved bool
}

type Role string

const (
	RoleStudent Role = "student"
	RoleAgent   Role = "agent"
	RoleAdmin   Role = "admin"
)

// CanDeliver reports whether the actor may even see delivery jobs.
// Approval is checked separately at accept/complete.
func (a Actor) CanDeliver() bool {
	return a.Role == RoleAgent || a.Role == RoleAdmin
}
