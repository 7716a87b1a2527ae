package domain

// Role enumerates organizational roles known to the capability table.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSupervisor Role = "supervisor"
	RoleEngineer   Role = "engineer"
	RolePurchasing Role = "purchasing"
	RoleFinance    Role = "finance"
	RoleEmployee   Role = "employee"
	RoleClient     Role = "client"

	// RoleTokenApprover is held by callers authenticated with an approval link.
	RoleTokenApprover Role = "token_approver"
)

// User is the read-only directory entry used for routing and templating.
type User struct {
	ID    string
	Name  string
	Role  Role
	Phone string
}

// Actor identifies who performs an operation.
type Actor struct {
	UserID string
	Role   Role
}
