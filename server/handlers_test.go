// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/aakash-jangid0/dinesync/domain"
	"github.com/aakash-jangid0/dinesync/store"
)

func TestWriteStoreErrorTaxonomy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := &Server{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"missing record", store.ErrNotFound, http.StatusNotFound, "not_found"},
		{"wrapped missing record", fmt.Errorf("lookup: %w", store.ErrNotFound), http.StatusNotFound, "not_found"},
		{"invalid transition", &domain.ErrInvalidTransition{From: domain.OrderDelivered, To: domain.OrderCancelled}, http.StatusConflict, "invalid_transition"},
		{"resolved chat", store.ErrChatResolved, http.StatusConflict, "chat_resolved"},
		{"coupon outside window", fmt.Errorf("coupon X: %w", store.ErrCouponNotValid), http.StatusConflict, "coupon_not_valid"},
		{"coupon exhausted", fmt.Errorf("coupon X: %w", store.ErrCouponExhausted), http.StatusConflict, "coupon_exhausted"},
		{"unexpected failure", errors.New("connection reset"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPost, "/test", nil)

			s.writeStoreError(c, tc.err)

			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d", w.Code, tc.status)
			}
			var body struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Error != tc.code {
				t.Fatalf("error code = %q, want %q", body.Error, tc.code)
			}
		})
	}
}
