package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// UserID is the employee code and doubles as the agent id on leases.
// BranchID is absent for staff that are not bound to a branch.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	Name      string    `json:"name,omitempty"`
	Role      string    `json:"role"`
	BranchID  *int64    `json:"branch_id,omitempty"`
	TokenType TokenType `json:"token_type"`
}

// Identity is what a token asserts about its holder.
type Identity struct {
	UserID   string
	Name     string
	Role     string
	BranchID *int64
}
