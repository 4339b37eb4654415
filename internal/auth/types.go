package auth

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Method represents the type of authentication
type Method string

const (
	MethodBasic Method = "basic" // username/password
	MethodJWT   Method = "jwt"   // bearer token issued by /auth/login
)

// Roles understood by HasPermission.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// Actions checked by the API.
const (
	ActionRead  = "read"  // status and debug endpoints
	ActionWrite = "write" // lifecycle operations
)

// Result represents the result of authentication
type Result struct {
	Success  bool     `json:"success"`
	Username string   `json:"username,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Token    *Token   `json:"token,omitempty"`
}

// Token represents a JWT token
type Token struct {
	Type      string    `json:"type"`  // "Bearer"
	Value     string    `json:"value"` // JWT token string
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Method   Method `json:"method"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

// Config enables authentication on the HTTP API. Users live in the config
// file with bcrypt password hashes; see "lokivisor hash-password".
type Config struct {
	Enabled   bool          `mapstructure:"enabled"`
	JWTSecret string        `mapstructure:"jwt_secret"` // random per run when empty
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Users     []User        `mapstructure:"users"`
}

type User struct {
	Username     string   `mapstructure:"username"`
	PasswordHash string   `mapstructure:"password_hash"`
	Roles        []string `mapstructure:"roles"`
}

// Validate checks an enabled config has usable users.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Users) == 0 {
		return errors.New("auth enabled but no users configured")
	}
	var errs []error
	seen := make(map[string]bool)
	for i, u := range c.Users {
		switch {
		case u.Username == "":
			errs = append(errs, fmt.Errorf("users[%d]: username is required", i))
		case seen[u.Username]:
			errs = append(errs, fmt.Errorf("users[%d]: duplicate username %q", i, u.Username))
		case u.PasswordHash == "":
			errs = append(errs, fmt.Errorf("users[%d]: password_hash is required", i))
		}
		seen[u.Username] = true
		for _, r := range u.Roles {
			if _, ok := rolePermissions[r]; !ok {
				errs = append(errs, fmt.Errorf("users[%d]: unknown role %q", i, r))
			}
		}
	}
	return errors.Join(errs...)
}
