package domain

// Privilege is a row of privilege.
type Privilege struct {
	Name        string
	Description string
	UUID        string
}

// RolePrivilege is a row of role_privilege.
type RolePrivilege struct {
	Role      string
	Privilege string
}
