package auth

import (
	"time"
)

// Roles carried in tokens. Operators may change chunks; viewers only watch.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
)

// ValidRole reports whether role is one the server issues
func ValidRole(role string) bool {
	return role == RoleViewer || role == RoleOperator
}

// TokenResponse represents a token response
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Subject   string    `json:"subject"`
	Role      string    `json:"role"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}
