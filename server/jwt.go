// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/aakash-jangid0/dinesync/internal/auth"
)

// JWTAuth handles JWT authentication
type JWTAuth struct {
	secret []byte
}

// NewJWTAuth creates a new JWT authenticator
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{
		secret: []byte(secret),
	}
}

// JWTClaims carries the caller identity and role.
type JWTClaims struct {
	Role string `json:"role"` // customer or admin
	jwt.RegisteredClaims
}

// GenerateToken generates a JWT token for the given user and role.
func (j *JWTAuth) GenerateToken(userID, role string, expiration time.Duration) (string, error) {
	if role != auth.RoleCustomer && role != auth.RoleAdmin {
		return "", fmt.Errorf("unknown role %q", role)
	}
	claims := &JWTClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "dinesync",
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// ValidateToken validates a JWT token and returns the claims
func (j *JWTAuth) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		if claims.Subject == "" {
			return nil, fmt.Errorf("missing sub (user ID) in token")
		}
		if claims.Role != auth.RoleCustomer && claims.Role != auth.RoleAdmin {
			return nil, fmt.Errorf("missing or unknown role in token")
		}
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// bearerToken extracts the bearer token from a request. Falls back to
// the access_token query parameter for WebSocket dials, where browser
// clients cannot set headers.
func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			return "", fmt.Errorf("bearer token required")
		}
		return tokenString, nil
	}
	if qt := r.URL.Query().Get("access_token"); qt != "" {
		return qt, nil
	}
	return "", fmt.Errorf("authorization required")
}

// Middleware returns a gin middleware that validates the JWT and
// populates the auth context.
func (j *JWTAuth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := bearerToken(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication_failed", "message": err.Error()})
			return
		}

		claims, err := j.ValidateToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication_failed", "message": "invalid token"})
			return
		}

		ctx := auth.SetAuthContext(c.Request.Context(), claims.Subject, claims.Role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireAdmin returns a gin middleware that rejects non-admin
// callers. Must run after Middleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := auth.GetRole(c.Request.Context())
		if !ok || role != auth.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "admin role required"})
			return
		}
		c.Next()
	}
}
