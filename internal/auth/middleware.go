package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ResultKey is the gin context key holding the *Result of an authenticated request.
const ResultKey = "auth_result"

// Middleware authenticates API requests against a Service.
type Middleware struct {
	service *Service
}

func NewMiddleware(s *Service) *Middleware {
	return &Middleware{service: s}
}

// Require authenticates the request and checks that its roles grant action.
func (m *Middleware) Require(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := m.authenticate(c.Request)
		if err != nil || !result.Success {
			c.Header("WWW-Authenticate", `Bearer realm="lokivisor"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if !HasPermission(result.Roles, action) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		}
		c.Set(ResultKey, result)
		c.Next()
	}
}

// Login exchanges basic credentials for a bearer token.
func (m *Middleware) Login(c *gin.Context) {
	username, password, ok := c.Request.BasicAuth()
	if !ok {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
			return
		}
		username, password = req.Username, req.Password
	}
	result, err := m.service.Authenticate(LoginRequest{Method: MethodBasic, Username: username, Password: password})
	if err != nil || !result.Success {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, result.Token)
}

// authenticate accepts a bearer token or basic credentials.
func (m *Middleware) authenticate(r *http.Request) (*Result, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return m.service.Authenticate(LoginRequest{Method: MethodJWT, Token: strings.TrimSpace(value)})
		}
	}
	if username, password, ok := r.BasicAuth(); ok {
		return m.service.Authenticate(LoginRequest{Method: MethodBasic, Username: username, Password: password})
	}
	return &Result{Success: false}, ErrInvalidCredentials
}
