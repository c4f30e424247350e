// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/aakash-jangid0/dinesync/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func staticToken(token string) TokenFunc {
	return func(ctx context.Context) (string, error) { return token, nil }
}

// roundTripFunc lets a test stand in for the server.
type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newFakeClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	client, err := NewClient("http://dinesync.test", staticToken("tok"), fastConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	client.HTTP = &http.Client{Transport: rt}
	return client
}

func fastConfig() *Config {
	return &Config{
		BackoffMin:   5 * time.Millisecond,
		BackoffMax:   20 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}
}

func jsonResponse(status int, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(data)),
	}, nil
}

func makeOrder(id string, created, updated time.Time) *domain.Order {
	return &domain.Order{
		ID:            id,
		CustomerID:    "cust-1",
		Status:        domain.OrderPending,
		PaymentStatus: domain.PaymentPending,
		TotalCents:    1500,
		CreatedAt:     created,
		UpdatedAt:     updated,
	}
}

func makeMessage(id, chatID, content string, sentAt time.Time) *domain.ChatMessage {
	return &domain.ChatMessage{
		ID:         id,
		ChatID:     chatID,
		SenderType: domain.SenderCustomer,
		Content:    content,
		SentAt:     sentAt,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}
