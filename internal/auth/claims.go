package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Credential validation (how a user proves who they are) lives elsewhere;
// the coordinator only needs an authenticated user id per connection.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	TokenType TokenType `json:"token_type"`
}
