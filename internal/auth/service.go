package auth

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "lokivisor"

// Service provides authentication functionality
type Service struct {
	users     map[string]User
	jwtSecret []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

// Claims represents JWT claims
type Claims struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// NewService creates the service for an enabled config.
func NewService(config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	jwtSecret := []byte(config.JWTSecret)
	if len(jwtSecret) == 0 {
		// Generate a random secret if not provided
		jwtSecret = make([]byte, 32)
		if _, err := rand.Read(jwtSecret); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
	}

	tokenTTL := config.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}

	users := make(map[string]User, len(config.Users))
	for _, u := range config.Users {
		users[u.Username] = u
	}
	return &Service{
		users:     users,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}, nil
}

// Authenticate performs authentication based on the login request
func (s *Service) Authenticate(req LoginRequest) (*Result, error) {
	switch req.Method {
	case MethodBasic:
		return s.authenticateBasic(req.Username, req.Password)
	case MethodJWT:
		return s.authenticateJWT(req.Token)
	default:
		return &Result{Success: false}, fmt.Errorf("unsupported auth method: %s", req.Method)
	}
}

// authenticateBasic checks the bcrypt hash and issues a token.
func (s *Service) authenticateBasic(username, password string) (*Result, error) {
	if username == "" || password == "" {
		return &Result{Success: false}, ErrInvalidCredentials
	}
	user, ok := s.users[username]
	if !ok {
		return &Result{Success: false}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return &Result{Success: false}, ErrInvalidCredentials
	}

	token, err := s.generateJWT(user)
	if err != nil {
		return &Result{Success: false}, fmt.Errorf("failed to generate token: %w", err)
	}
	return &Result{
		Success:  true,
		Username: user.Username,
		Roles:    user.Roles,
		Token:    token,
	}, nil
}

// authenticateJWT validates a JWT token
func (s *Service) authenticateJWT(tokenString string) (*Result, error) {
	if tokenString == "" {
		return &Result{Success: false}, ErrInvalidCredentials
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return &Result{Success: false}, ErrInvalidCredentials
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return &Result{Success: false}, ErrInvalidCredentials
	}
	// a user removed from the config loses access with their next request
	if _, ok := s.users[claims.Username]; !ok {
		return &Result{Success: false}, ErrInvalidCredentials
	}

	return &Result{
		Success:  true,
		Username: claims.Username,
		Roles:    claims.Roles,
	}, nil
}

// generateJWT generates a JWT token for a user
func (s *Service) generateJWT(user User) (*Token, error) {
	now := s.now()
	expiresAt := now.Add(s.tokenTTL)

	claims := &Claims{
		Username: user.Username,
		Roles:    user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   user.Username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &Token{
		Type:      "Bearer",
		Value:     tokenString,
		ExpiresAt: expiresAt,
	}, nil
}

var rolePermissions = map[string][]string{
	RoleAdmin:    {ActionRead, ActionWrite},
	RoleOperator: {ActionRead, ActionWrite},
	RoleViewer:   {ActionRead},
}

// HasPermission reports whether any of roles grants action.
func HasPermission(roles []string, action string) bool {
	for _, role := range roles {
		for _, a := range rolePermissions[role] {
			if a == action {
				return true
			}
		}
	}
	return false
}

// HashPassword returns the bcrypt hash to put in a user's password_hash.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(h), nil
}
