package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role represents the available roles for access control. Roles are derived
// from the static staff directory at login, not stored as mutable state.
type Role string

const (
	RoleUser           Role = "USER"
	RoleAdmin          Role = "ADMIN"
	RoleDepartmentHead Role = "DEPARTMENT_HEAD"
)

// User is the resolved identity handed back by the login flow.
type User struct {
	ID         string      `json:"id"`
	Email      string      `json:"email"`
	Role       Role        `json:"role"`
	Department *Department `json:"department,omitempty"`
}

// Staff reports whether the user may operate the triage dashboard.
func (u *User) Staff() bool {
	return u.Role == RoleAdmin || u.Role == RoleDepartmentHead
}

// JWTClaims is the token payload carried on authenticated requests.
type JWTClaims struct {
	UserID     string      `json:"user_id"`
	Email      string      `json:"email"`
	Role       Role        `json:"role"`
	Department *Department `json:"department,omitempty"`
	jwt.RegisteredClaims
}

// LoginRequest is the login payload.
type LoginRequest struct {
	Email      string `json:"email" validate:"required,email"`
	AccessCode string `json:"access_code"`
	IP         string `json:"-"`
	UserAgent  string `json:"-"`
}

// LoginResponse carries the issued token and the resolved identity.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}
