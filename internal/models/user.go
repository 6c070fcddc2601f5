package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin     UserRole = "Admin"
	RoleStudent   UserRole = "Student"
	RoleProfessor UserRole = "Professor"
	RoleHOD       UserRole = "HOD"
)

// CanReview reports whether the role may hold the reviewer seat.
func (r UserRole) CanReview() bool {
	return r == RoleProfessor || r == RoleHOD
}

// UserStatus marks whether an account may act.
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
)

// User is a directory record as resolved for an actor.
type User struct {
	ID           string     `db:"id" json:"id"`
	FullName     string     `db:"full_name" json:"fullName"`
	Email        string     `db:"email" json:"email"`
	Phone        *string    `db:"phone" json:"phone,omitempty"`
	Role         UserRole   `db:"role" json:"role"`
	DepartmentID *string    `db:"department_id" json:"departmentId,omitempty"`
	Status       UserStatus `db:"status" json:"status"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updatedAt"`
}

// Active reports whether the user is allowed to act.
func (u *User) Active() bool {
	return u != nil && u.Status == UserStatusActive
}

// Department returns the department id or empty when unassigned.
func (u *User) Department() string {
	if u == nil || u.DepartmentID == nil {
		return ""
	}
	return *u.DepartmentID
}

// Actor identifies the caller of an engine operation.
type Actor struct {
	ID   string
	Role UserRole
}
