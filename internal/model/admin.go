package model

import "time"

// AdminRole names a fixed admin role. Permissions are derived from the role
// at login time and embedded in the JWT.
type AdminRole string

const (
	RoleSuperAdmin AdminRole = "superadmin"
	RoleRegistrar  AdminRole = "registrar"
	RoleProctor    AdminRole = "proctor"
)

// Permission codes checked by the RBAC middleware.
const (
	PermissionCentersRead   = "centers:read"
	PermissionCentersWrite  = "centers:write"
	PermissionStudentsRead  = "students:read"
	PermissionStudentsWrite = "students:write"
	PermissionTestsRead     = "tests:read"
	PermissionTestsWrite    = "tests:write"
	PermissionAttemptsRead  = "attempts:read"
	PermissionAttemptsWrite = "attempts:write"
)

// RolePermissions maps each role to its permission set.
var RolePermissions = map[AdminRole][]string{
	RoleSuperAdmin: {
		PermissionCentersRead, PermissionCentersWrite,
		PermissionStudentsRead, PermissionStudentsWrite,
		PermissionTestsRead, PermissionTestsWrite,
		PermissionAttemptsRead, PermissionAttemptsWrite,
	},
	RoleRegistrar: {
		PermissionCentersRead,
		PermissionStudentsRead, PermissionStudentsWrite,
		PermissionTestsRead,
		PermissionAttemptsRead, PermissionAttemptsWrite,
	},
	RoleProctor: {
		PermissionCentersRead,
		PermissionStudentsRead,
		PermissionTestsRead,
		PermissionAttemptsRead,
	},
}

// Admin represents an administrative user.
type Admin struct {
	ID           int       `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         AdminRole `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AdminLoginRequest is the payload for admin authentication.
type AdminLoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=4,max=128"`
}

// AdminLoginResponse is returned after successful admin login.
type AdminLoginResponse struct {
	Token string `json:"token"`
	Admin Admin  `json:"admin"`
}
