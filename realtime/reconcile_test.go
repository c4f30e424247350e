// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aakash-jangid0/dinesync/domain"
)

func TestTempIDsAreUniqueAndRecognizable(t *testing.T) {
	coll := NewCollection[*domain.ChatMessage](Asc)
	r := NewReconciler(coll, testLogger())

	a, b := r.TempID(), r.TempID()
	if a == b {
		t.Fatalf("temp ids must be unique, got %s twice", a)
	}
	if !IsTempID(a) || !IsTempID(b) {
		t.Fatalf("temp ids %s, %s should be recognizable", a, b)
	}
	if IsTempID("m-real") || IsTempID("") {
		t.Fatal("server ids must not look like temp ids")
	}
}

func TestStageShowsPlaceholderImmediately(t *testing.T) {
	coll := NewCollection[*domain.ChatMessage](Asc)
	r := NewReconciler(coll, testLogger())

	tempID := r.TempID()
	placeholder := makeMessage(tempID, "chat", "hello", time.Now())
	p, err := r.Stage(placeholder, func(ctx context.Context) (*domain.ChatMessage, error) {
		t.Fatal("send must not run during Stage")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	if !coll.Contains(tempID) {
		t.Fatal("placeholder should be visible before the send")
	}
	if p.State() != StateSynthesized {
		t.Fatalf("state = %s, want synthesized", p.State())
	}
}

func TestStageRejectsNonTempID(t *testing.T) {
	coll := NewCollection[*domain.ChatMessage](Asc)
	r := NewReconciler(coll, testLogger())

	_, err := r.Stage(makeMessage("m-real", "chat", "hi", time.Now()),
		func(ctx context.Context) (*domain.ChatMessage, error) { return nil, nil })
	if err == nil {
		t.Fatal("expected error for non-temp placeholder id")
	}
}

func TestSendConfirmReplacesPlaceholderInPlace(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	coll := NewCollection[*domain.ChatMessage](Asc)
	r := NewReconciler(coll, testLogger())

	tempID := r.TempID()
	canonical := makeMessage("m-real", "chat", "hello", at.Add(time.Second))
	p, err := r.Stage(makeMessage(tempID, "chat", "hello", at),
		func(ctx context.Context) (*domain.ChatMessage, error) { return canonical, nil })
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	if err := p.Send(context.Background()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if p.State() != StateConfirmed {
		t.Fatalf("state = %s, want confirmed", p.State())
	}
	if coll.Contains(tempID) {
		t.Fatal("placeholder should be replaced after confirmation")
	}
	got, ok := coll.Get("m-real")
	if !ok || got.Content != "hello" {
		t.Fatalf("canonical record missing after confirmation: %v", got)
	}
	if len(r.Unconfirmed()) != 0 {
		t.Fatalf("confirmed write still tracked as pending")
	}
}

func TestSendFailureKeepsPlaceholderAndAllowsRetry(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	coll := NewCollection[*domain.ChatMessage](Asc)
	r := NewReconciler(coll, testLogger())

	sendErr := errors.New("connection refused")
	attempts := 0
	canonical := makeMessage("m-real", "chat", "hello", at.Add(time.Second))

	tempID := r.TempID()
	p, err := r.Stage(makeMessage(tempID, "chat", "hello", at),
		func(ctx context.Context) (*domain.ChatMessage, error) {
			attempts++
			if attempts == 1 {
				return nil, sendErr
			}
			return canonical, nil
		})
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	if err := p.Send(context.Background()); !errors.Is(err, sendErr) {
		t.Fatalf("Send error = %v, want %v", err, sendErr)
	}
	if p.State() != StateFailed {
		t.Fatalf("state = %s, want failed", p.State())
	}
	if !coll.Contains(tempID) {
		t.Fatal("failed write must keep its placeholder visible")
	}
	if len(r.Unconfirmed()) != 1 {
		t.Fatal("failed write should stay tracked for retry")
	}

	// Retry succeeds.
	if err := p.Send(context.Background()); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if coll.Contains(tempID) || !coll.Contains("m-real") {
		t.Fatalf("retry did not reconcile: ids = %v", coll.IDs())
	}
}

func TestSendRejectsDoubleDispatch(t *testing.T) {
	coll := NewCollection[*domain.ChatMessage](Asc)
	r := NewReconciler(coll, testLogger())

	canonical := makeMessage("m-real", "chat", "hi", time.Now())
	p, err := r.Stage(makeMessage(r.TempID(), "chat", "hi", time.Now()),
		func(ctx context.Context) (*domain.ChatMessage, error) { return canonical, nil })
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if err := p.Send(context.Background()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := p.Send(context.Background()); err == nil {
		t.Fatal("second Send after confirmation should fail")
	}
}

func TestDiscardRemovesPlaceholder(t *testing.T) {
	coll := NewCollection[*domain.ChatMessage](Asc)
	r := NewReconciler(coll, testLogger())

	tempID := r.TempID()
	p, err := r.Stage(makeMessage(tempID, "chat", "hi", time.Now()),
		func(ctx context.Context) (*domain.ChatMessage, error) { return nil, errors.New("boom") })
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	p.Discard()
	if coll.Contains(tempID) {
		t.Fatal("discarded placeholder should be removed")
	}
	if len(r.Unconfirmed()) != 0 {
		t.Fatal("discarded write should not be tracked")
	}
}

func TestMessageSendHappyPath(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	coll := NewCollection[*domain.ChatMessage](Asc)
	r := NewReconciler(coll, testLogger())

	// An existing transcript.
	coll.Upsert(makeMessage("m1", "c1", "hi", at))
	coll.Upsert(makeMessage("m2", "c1", "hello, how can we help?", at.Add(time.Second)))
	coll.Upsert(makeMessage("m3", "c1", "checking on order", at.Add(2*time.Second)))

	tempID := r.TempID()
	canonical := makeMessage("m42", "c1", "Order delayed?", at.Add(4*time.Second))
	p, err := r.Stage(makeMessage(tempID, "c1", "Order delayed?", at.Add(3*time.Second)),
		func(ctx context.Context) (*domain.ChatMessage, error) { return canonical, nil })
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	// The placeholder appends at the tail immediately.
	ids := coll.IDs()
	if ids[len(ids)-1] != tempID {
		t.Fatalf("placeholder not at tail: %v", ids)
	}
	if coll.Len() != 4 {
		t.Fatalf("len = %d, want 4", coll.Len())
	}

	if err := p.Send(context.Background()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// Same position, real id, unchanged length.
	ids = coll.IDs()
	if ids[len(ids)-1] != "m42" {
		t.Fatalf("confirmed message not at tail: %v", ids)
	}
	if coll.Len() != 4 {
		t.Fatalf("len after confirmation = %d, want 4", coll.Len())
	}
	got, _ := coll.Get("m42")
	if got.Content != "Order delayed?" || got.SenderType != domain.SenderCustomer {
		t.Fatalf("unexpected confirmed message: %+v", got)
	}
}

func TestFeedArrivingBeforeConfirmationDoesNotDuplicate(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	coll := NewCollection[*domain.ChatMessage](Asc)
	r := NewReconciler(coll, testLogger())

	canonical := makeMessage("m-real", "chat", "hello", at.Add(time.Second))
	tempID := r.TempID()
	p, err := r.Stage(makeMessage(tempID, "chat", "hello", at),
		func(ctx context.Context) (*domain.ChatMessage, error) {
			// The change feed beats the HTTP response.
			coll.Upsert(canonical)
			return canonical, nil
		})
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	if err := p.Send(context.Background()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if coll.Len() != 1 {
		t.Fatalf("expected exactly one record, got %d: %v", coll.Len(), coll.IDs())
	}
	if !coll.Contains("m-real") {
		t.Fatal("canonical record missing")
	}
}

func TestFeedArrivingAfterConfirmationDoesNotDuplicate(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	coll := NewCollection[*domain.ChatMessage](Asc)
	r := NewReconciler(coll, testLogger())

	canonical := makeMessage("m-real", "chat", "hello", at.Add(time.Second))
	p, err := r.Stage(makeMessage(r.TempID(), "chat", "hello", at),
		func(ctx context.Context) (*domain.ChatMessage, error) { return canonical, nil })
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if err := p.Send(context.Background()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// The feed echo lands after confirmation; the idempotent merge
	// keeps a single entry.
	coll.Upsert(makeMessage("m-real", "chat", "hello", at.Add(time.Second)))
	if coll.Len() != 1 {
		t.Fatalf("expected exactly one record, got %d: %v", coll.Len(), coll.IDs())
	}
}
