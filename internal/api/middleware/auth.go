package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/imagevault/imagevault/internal/api/shared"
)

// AuthMiddleware validates admin bearer tokens on mutating routes.
type AuthMiddleware struct {
	secret []byte
}

// NewAuthMiddleware creates the middleware with the HS256 signing secret.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret)}
}

// Authenticate validates the JWT from the Authorization header.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid authorization format")
			return
		}

		if err := m.validateToken(parts[1]); err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				shared.RespondWithError(w, r, http.StatusUnauthorized, "Token expired")
				return
			}
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) validateToken(tokenString string) error {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return jwt.ErrTokenUnverifiable
	}

	return nil
}
