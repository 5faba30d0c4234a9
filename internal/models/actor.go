package models

// Actor is the authenticated caller of a service operation.
type Actor struct {
	ID    string
	Role  UserRole
	Email string
}

// IsStudent reports whether the actor has the student role.
func (a Actor) IsStudent() bool {
	return a.Role == RoleStudent
}

// IsReviewer reports whether the actor may review documents and accounts.
func (a Actor) IsReviewer() bool {
	return a.Role == RoleCoordinator || a.Role == RoleAdmin
}
