// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aakash-jangid0/dinesync/domain"
)

// ErrChatResolved is returned when appending to a resolved chat.
var ErrChatResolved = errors.New("support chat is resolved")

// OpenChat creates a support chat for an order, or returns the
// existing active chat for that order if one is already open.
func (s *Store) OpenChat(ctx context.Context, orderID, customerID string) (*domain.SupportChat, error) {
	var existingID string
	err := s.pool.QueryRow(ctx, `
		SELECT id::text FROM support_chats WHERE order_id = $1 AND status = $2
	`, orderID, domain.ChatActive).Scan(&existingID)
	if err == nil {
		return s.GetChat(ctx, existingID)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to check existing chat: %w", err)
	}

	chatID := uuid.New().String()
	var ev domain.ChangeEvent
	inserted := false
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO support_chats (id, order_id, customer_id, status)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (order_id) WHERE status = 'active' DO NOTHING
		`, chatID, orderID, customerID, domain.ChatActive)
		if err != nil {
			return fmt.Errorf("failed to insert support chat: %w", err)
		}
		inserted = tag.RowsAffected() == 1

		// A concurrent open may have won; use whichever row is active.
		if err := tx.QueryRow(ctx, `
			SELECT id::text FROM support_chats WHERE order_id = $1 AND status = $2
		`, orderID, domain.ChatActive).Scan(&chatID); err != nil {
			return fmt.Errorf("failed to re-read chat id: %w", err)
		}

		if !inserted {
			return nil
		}
		ev, err = appendChangeInTx(ctx, tx, domain.TableChats, domain.OpInsert, chatID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if inserted {
		s.publish(ctx, ev)
	}
	return s.GetChat(ctx, chatID)
}

// GetChat fetches a chat with its full transcript, oldest message
// first. Cached for rehydration.
func (s *Store) GetChat(ctx context.Context, id string) (*domain.SupportChat, error) {
	var cached domain.SupportChat
	if s.getCached(ctx, domain.TableChats, id, &cached) {
		return &cached, nil
	}

	var c domain.SupportChat
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, order_id::text, customer_id::text, status, created_at, updated_at
		FROM support_chats WHERE id = $1
	`, id).Scan(&c.ID, &c.OrderID, &c.CustomerID, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query chat: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id::text, chat_id::text, sender_type, content, sent_at, read
		FROM chat_messages WHERE chat_id = $1 ORDER BY sent_at, id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m domain.ChatMessage
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderType, &m.Content, &m.SentAt, &m.Read); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		c.Messages = append(c.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat messages: %w", err)
	}

	s.setCached(ctx, domain.TableChats, id, &c)
	return &c, nil
}

// GetMessage fetches a single chat message by primary key.
func (s *Store) GetMessage(ctx context.Context, id string) (*domain.ChatMessage, error) {
	var cached domain.ChatMessage
	if s.getCached(ctx, domain.TableMessages, id, &cached) {
		return &cached, nil
	}

	var m domain.ChatMessage
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, chat_id::text, sender_type, content, sent_at, read
		FROM chat_messages WHERE id = $1
	`, id).Scan(&m.ID, &m.ChatID, &m.SenderType, &m.Content, &m.SentAt, &m.Read)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query chat message: %w", err)
	}

	s.setCached(ctx, domain.TableMessages, id, &m)
	return &m, nil
}

// ListChats returns support chats newest-first for the admin
// dashboard, optionally filtered by status.
func (s *Store) ListChats(ctx context.Context, status domain.ChatStatus, limit int) ([]domain.SupportChat, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var statusArg *string
	if status != "" {
		v := string(status)
		statusArg = &v
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id::text, order_id::text, customer_id::text, status, created_at, updated_at
		FROM support_chats
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY updated_at DESC
		LIMIT $2
	`, statusArg, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	var chats []domain.SupportChat
	for rows.Next() {
		var c domain.SupportChat
		if err := rows.Scan(&c.ID, &c.OrderID, &c.CustomerID, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chats: %w", err)
	}
	return chats, nil
}

// ResolveChat marks a chat resolved. The transition is one-way;
// resolving an already-resolved chat is a no-op.
func (s *Store) ResolveChat(ctx context.Context, id string) (*domain.SupportChat, error) {
	var ev domain.ChangeEvent
	changed := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE support_chats SET status = $2, updated_at = now()
			WHERE id = $1 AND status = $3
		`, id, domain.ChatResolved, domain.ChatActive)
		if err != nil {
			return fmt.Errorf("failed to resolve chat: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Either missing or already resolved; distinguish below.
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM support_chats WHERE id = $1)`, id).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check chat existence: %w", err)
			}
			if !exists {
				return ErrNotFound
			}
			return nil
		}
		changed = true
		ev, err = appendChangeInTx(ctx, tx, domain.TableChats, domain.OpUpdate, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.publish(ctx, ev)
	}
	return s.GetChat(ctx, id)
}

// AppendMessage adds a message to an active chat. Two change events
// result: an insert for the message and an update for the owning chat
// (its updated_at drives the admin chat list ordering).
func (s *Store) AppendMessage(ctx context.Context, chatID string, sender domain.SenderType, content string) (*domain.ChatMessage, error) {
	if !sender.Valid() {
		return nil, fmt.Errorf("invalid sender type %q", sender)
	}
	if content == "" {
		return nil, fmt.Errorf("message content must not be empty")
	}

	msgID := uuid.New().String()
	var m domain.ChatMessage
	var msgEv, chatEv domain.ChangeEvent

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var status domain.ChatStatus
		err := tx.QueryRow(ctx, `SELECT status FROM support_chats WHERE id = $1 FOR UPDATE`, chatID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock chat: %w", err)
		}
		if status != domain.ChatActive {
			return ErrChatResolved
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO chat_messages (id, chat_id, sender_type, content)
			VALUES ($1, $2, $3, $4)
			RETURNING id::text, chat_id::text, sender_type, content, sent_at, read
		`, msgID, chatID, sender, content).Scan(&m.ID, &m.ChatID, &m.SenderType, &m.Content, &m.SentAt, &m.Read)
		if err != nil {
			return fmt.Errorf("failed to insert chat message: %w", err)
		}

		if _, err := tx.Exec(ctx, `UPDATE support_chats SET updated_at = now() WHERE id = $1`, chatID); err != nil {
			return fmt.Errorf("failed to touch chat: %w", err)
		}

		if msgEv, err = appendChangeInTx(ctx, tx, domain.TableMessages, domain.OpInsert, msgID); err != nil {
			return err
		}
		chatEv, err = appendChangeInTx(ctx, tx, domain.TableChats, domain.OpUpdate, chatID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, msgEv)
	s.publish(ctx, chatEv)
	return &m, nil
}

// MarkMessagesRead flips the read flag on all unread messages in a
// chat that were sent by the other side. Emits one update event per
// flipped message.
func (s *Store) MarkMessagesRead(ctx context.Context, chatID string, reader domain.SenderType) error {
	if !reader.Valid() {
		return fmt.Errorf("invalid reader type %q", reader)
	}
	sender := domain.SenderCustomer
	if reader == domain.SenderCustomer {
		sender = domain.SenderAdmin
	}

	var evs []domain.ChangeEvent
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE chat_messages SET read = true
			WHERE chat_id = $1 AND sender_type = $2 AND read = false
			RETURNING id::text
		`, chatID, sender)
		if err != nil {
			return fmt.Errorf("failed to mark messages read: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan message id: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating message ids: %w", err)
		}

		for _, id := range ids {
			ev, err := appendChangeInTx(ctx, tx, domain.TableMessages, domain.OpUpdate, id)
			if err != nil {
				return err
			}
			evs = append(evs, ev)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, ev := range evs {
		s.publish(ctx, ev)
	}
	return nil
}
