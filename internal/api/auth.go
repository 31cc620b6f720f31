package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/systemaudit/winstaller/internal/models"
)

// ctxUserKey is the gin context key holding the authenticated user.
const ctxUserKey = "auth_user"

// issueToken signs a bearer token for the account.
func (s *Server) issueToken(u *models.User) (string, time.Time, error) {
	ttl := time.Duration(s.cfg.TokenTTLH) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	expires := time.Now().Add(ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      fmt.Sprintf("%d", u.ID),
		"username": u.Username,
		"admin":    u.IsAdmin,
		"iat":      time.Now().Unix(),
		"exp":      expires.Unix(),
	})
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("api: sign token: %w", err)
	}
	return signed, expires, nil
}

// authMiddleware validates the bearer token and loads the account into the
// request context. Banned accounts are rejected even with a valid token.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(s.cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		sub, err := claims.GetSubject()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		var userID uint
		if _, err := fmt.Sscanf(sub, "%d", &userID); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		u, err := s.users.ByID(userID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown account"})
			return
		}
		if u.Status == models.UserBanned {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account is banned"})
			return
		}

		c.Set(ctxUserKey, u)
		c.Next()
	}
}

// currentUser returns the account the middleware stored on the context.
func currentUser(c *gin.Context) *models.User {
	v, _ := c.Get(ctxUserKey)
	u, _ := v.(*models.User)
	return u
}
