package domain

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAdmin
}

type Customer struct {
	ID    int64
	Name  string
	Email string
	Role  Role
}

func (c Customer) IsAdmin() bool {
	return c.Role == RoleAdmin
}
