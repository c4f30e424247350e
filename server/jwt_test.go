// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aakash-jangid0/dinesync/internal/auth"
)

func TestGenerateAndValidateToken(t *testing.T) {
	j := NewJWTAuth("test-secret")

	token, err := j.GenerateToken("user-1", auth.RoleCustomer, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := j.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("subject = %s, want user-1", claims.Subject)
	}
	if claims.Role != auth.RoleCustomer {
		t.Fatalf("role = %s, want customer", claims.Role)
	}
}

func TestGenerateTokenRejectsUnknownRole(t *testing.T) {
	j := NewJWTAuth("test-secret")
	if _, err := j.GenerateToken("user-1", "superuser", time.Hour); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTAuth("secret-a").GenerateToken("user-1", auth.RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if _, err := NewJWTAuth("secret-b").ValidateToken(token); err == nil {
		t.Fatal("expected validation failure with wrong secret")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	j := NewJWTAuth("test-secret")
	token, err := j.GenerateToken("user-1", auth.RoleAdmin, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if _, err := j.ValidateToken(token); err == nil {
		t.Fatal("expected validation failure for expired token")
	}
}

func TestBearerTokenSources(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	token, err := bearerToken(req)
	if err != nil || token != "header-token" {
		t.Fatalf("header token = %q, err = %v", token, err)
	}

	// WebSocket dials pass the token as a query parameter.
	req = httptest.NewRequest("GET", "/api/v1/realtime/feed?access_token=query-token", nil)
	token, err = bearerToken(req)
	if err != nil || token != "query-token" {
		t.Fatalf("query token = %q, err = %v", token, err)
	}

	req = httptest.NewRequest("GET", "/api/v1/orders", nil)
	if _, err := bearerToken(req); err == nil {
		t.Fatal("expected error without credentials")
	}

	req = httptest.NewRequest("GET", "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if _, err := bearerToken(req); err == nil {
		t.Fatal("expected error for non-bearer authorization")
	}
}
