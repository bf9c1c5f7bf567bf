// Package middleware holds the relay's gin middlewares.
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"

	"classroom-messaging/internal/models"
)

// ErrInvalidToken covers malformed, expired or wrongly signed tokens.
var ErrInvalidToken = errors.New("invalid token")

const (
	ContextUserID = "userID"
	ContextRole   = "role"
)

// ParseToken validates a session token and extracts the identity claims the
// auth service signed into it.
func ParseToken(token string, secret []byte) (models.Identity, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return models.Identity{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return models.Identity{}, ErrInvalidToken
	}

	userID, ok := claims["userId"].(float64)
	if !ok || userID == 0 {
		return models.Identity{}, ErrInvalidToken
	}
	role, _ := claims["role"].(string)

	return models.Identity{UserID: int(userID), Role: models.Role(role)}, nil
}

// Auth validates the Authorization header and stores the caller's identity on
// the request context.
func Auth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		identity, err := ParseToken(parts[1], secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ContextUserID, identity.UserID)
		c.Set(ContextRole, string(identity.Role))
		c.Next()
	}
}
