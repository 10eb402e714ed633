package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/yoockh/deepfake-detector/internal/utils"
)

const (
	AnonymousUser = "anonymous-user"
	RoleUser      = "user"
	RoleAdmin     = "admin"
)

type apiError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

type AuthConfig struct {
	Secret   string
	Issuer   string // optional
	Audience string // optional
}

type claims struct {
	jwt.RegisteredClaims
	Role        string         `json:"role"`
	AppMetadata map[string]any `json:"app_metadata"` // {"role":"admin"}
}

func abort(c *gin.Context, status int, code utils.Code, msg string) {
	c.AbortWithStatusJSON(status, apiError{Code: code, Message: msg})
}

// JWTAuth verifies HS256 bearer tokens and sets user_id and role. With no
// secret configured every request runs as the anonymous user.
func JWTAuth(cfg AuthConfig) gin.HandlerFunc {
	if cfg.Secret == "" {
		return func(c *gin.Context) {
			c.Set("user_id", AnonymousUser)
			c.Set("role", RoleUser)
			c.Next()
		}
	}

	key := []byte(cfg.Secret)
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			abort(c, http.StatusUnauthorized, utils.CodeUnauthorized, "missing bearer token")
			return
		}

		cl := &claims{}
		tok, err := jwt.ParseWithClaims(raw, cl, func(*jwt.Token) (any, error) { return key, nil }, opts...)
		if err != nil || tok == nil || !tok.Valid {
			abort(c, http.StatusUnauthorized, utils.CodeUnauthorized, "invalid token")
			return
		}
		if cl.Subject == "" {
			abort(c, http.StatusUnauthorized, utils.CodeUnauthorized, "missing subject")
			return
		}

		c.Set("user_id", cl.Subject)
		c.Set("role", roleOf(cl))
		c.Next()
	}
}

// bearerToken also accepts ?token= because browsers cannot set headers on a
// websocket handshake.
func bearerToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(c.Query("token"))
}

func roleOf(cl *claims) string {
	if v, ok := cl.AppMetadata["role"].(string); ok && v != "" {
		return strings.ToLower(v)
	}
	if cl.Role == RoleAdmin {
		return RoleAdmin
	}
	return RoleUser
}

func RequireRole(allowed ...string) gin.HandlerFunc {
	allow := make([]string, 0, len(allowed))
	for _, a := range allowed {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			allow = append(allow, a)
		}
	}

	return func(c *gin.Context) {
		role, _ := c.Get("role")
		r, _ := role.(string)
		if !slices.Contains(allow, strings.ToLower(r)) {
			abort(c, http.StatusForbidden, utils.CodeForbidden, "forbidden")
			return
		}
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc { return RequireRole(RoleAdmin) }
