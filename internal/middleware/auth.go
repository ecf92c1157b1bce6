package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"movementflow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context keys set by the auth middleware.
const (
	ContextUserID      = "userID"
	ContextUserRole    = "userRole"
	ContextDisplayName = "displayName"
)

const devSecret = "default_super_secret_key"

var (
	secretMu  sync.RWMutex
	jwtSecret []byte
	secureCk  bool
)

// InitAuth sets the signing secret and whether cookies are marked Secure.
// An empty secret falls back to a development key; config validation
// refuses that in release mode.
func InitAuth(secret string, secureCookies bool) {
	secretMu.Lock()
	defer secretMu.Unlock()
	if secret == "" {
		secret = devSecret
	}
	jwtSecret = []byte(secret)
	secureCk = secureCookies
}

func GetJWTSecret() []byte {
	secretMu.RLock()
	defer secretMu.RUnlock()
	if len(jwtSecret) == 0 {
		return []byte(devSecret)
	}
	return jwtSecret
}

// SetTokenCookie stores the access token as an HttpOnly cookie.
func SetTokenCookie(c *gin.Context, accessToken string, ttl time.Duration) {
	secretMu.RLock()
	secure := secureCk
	secretMu.RUnlock()

	sameSite := http.SameSiteLaxMode
	if secure {
		sameSite = http.SameSiteNoneMode
	}
	c.SetSameSite(sameSite)
	c.SetCookie("access_token", accessToken, int(ttl.Seconds()), "/", "", secure, true)
}

// ClearTokenCookie removes the access_token cookie
func ClearTokenCookie(c *gin.Context) {
	c.SetCookie("access_token", "", -1, "/", "", false, true)
}

// tokenFromRequest reads the cookie first, then the Authorization header.
func tokenFromRequest(c *gin.Context) (string, string) {
	tokenString, cookieErr := c.Cookie("access_token")
	if cookieErr == nil && tokenString != "" {
		return tokenString, ""
	}
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", "Authorization is missing"
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", "Invalid authorization format. Expected 'Bearer <token>'"
	}
	return parts[1], ""
}

func authenticate(c *gin.Context) (jwt.MapClaims, bool) {
	tokenString, msg := tokenFromRequest(c)
	if msg != "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, msg))
		return nil, false
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return GetJWTSecret(), nil
	})
	if err != nil || !token.Valid {
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token"))
		return nil, false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token claims"))
		return nil, false
	}

	name, _ := claims["name"].(string)
	if strings.TrimSpace(name) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Display name not found in token"))
		return nil, false
	}
	role, _ := claims["role"].(string)

	c.Set(ContextUserID, claims["sub"])
	c.Set(ContextUserRole, role)
	c.Set(ContextDisplayName, name)
	return claims, true
}

// RequireAuth validates the JWT and exposes the caller on the context.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := authenticate(c); !ok {
			return
		}
		c.Next()
	}
}

// RequireRole Middleware validates the JWT token and checks if the user's role exists in the allowedRoles list
func RequireRole(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := authenticate(c); !ok {
			return
		}

		userRole := c.GetString(ContextUserRole)
		roleAllowed := false
		for _, role := range allowedRoles {
			if userRole == role {
				roleAllowed = true
				break
			}
		}

		if !roleAllowed {
			c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied: insufficient permissions"))
			return
		}

		c.Next()
	}
}

// DisplayName returns the authenticated caller's display name.
func DisplayName(c *gin.Context) string {
	return c.GetString(ContextDisplayName)
}
