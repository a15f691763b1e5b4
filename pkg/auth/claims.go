package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingTenant = errors.New("token carries no tenant")
	ErrInvalidRole   = errors.New("token carries an unknown role")
)

// Role scopes what a tenant token may do.
type Role string

const (
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

func (r Role) IsValid() bool {
	return r == RoleOperator || r == RoleAdmin
}

// Allows reports whether a holder of r may act with the required role.
// Admins may do anything an operator may.
func (r Role) Allows(required Role) bool {
	if !r.IsValid() {
		return false
	}
	return r == required || r == RoleAdmin
}

// ParseRole accepts the role names case-insensitively.
func ParseRole(value string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if !role.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, value)
	}
	return role, nil
}

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	TenantID string
	Subject  string
	Role     Role
	JTI      string
}

// AccessTokenClaims is the body of a tenant access token.
type AccessTokenClaims struct {
	TenantID string `json:"tenant_id"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

// Validate runs after the registered claims check during parsing.
func (c AccessTokenClaims) Validate() error {
	if strings.TrimSpace(c.TenantID) == "" {
		return ErrMissingTenant
	}
	if !c.Role.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, c.Role)
	}
	return nil
}
