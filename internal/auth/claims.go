package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Branch scopes a point-of-sale user to the invoices of one branch; admins
// carry no branch.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	Branch    string    `json:"branch,omitempty"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
