package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/inbox/internal/filter"
	"github.com/matheus3301/inbox/internal/model"
)

const conversationColumns = `id, channel, account_id, contact_name, contact_handle, contact_phone, contact_email,
	status, assignee_id, starred, snoozed_until, archived, purpose, unread_count,
	last_message_at, last_message_preview`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (model.Conversation, error) {
	var (
		c       model.Conversation
		snoozed sql.NullInt64
		lastAt  int64
	)
	err := row.Scan(&c.ID, &c.Channel, &c.AccountID,
		&c.Contact.Name, &c.Contact.Handle, &c.Contact.Phone, &c.Contact.Email,
		&c.Status, &c.AssigneeID, &c.Starred, &snoozed, &c.Archived, &c.Purpose, &c.UnreadCount,
		&lastAt, &c.LastMessagePreview)
	if err != nil {
		return model.Conversation{}, err
	}
	if snoozed.Valid {
		t := fromMillis(snoozed.Int64)
		c.SnoozedUntil = &t
	}
	c.LastMessageAt = fromMillis(lastAt)
	return c, nil
}

// UpsertConversation inserts or replaces the metadata of a conversation.
// Last-message fields only move forward in time.
func (db *DB) UpsertConversation(ctx context.Context, c *model.Conversation) error {
	if c.ID == "" {
		return errors.New("upsert conversation: empty id")
	}
	status, purpose := c.Status, c.Purpose
	if status == "" {
		status = model.StatusOpen
	}
	if purpose == "" {
		purpose = model.PurposeGeneral
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO conversations (id, channel, account_id, contact_name, contact_handle, contact_phone, contact_email,
			status, assignee_id, starred, snoozed_until, archived, purpose, unread_count,
			last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			channel = excluded.channel,
			account_id = excluded.account_id,
			contact_name = CASE WHEN excluded.contact_name != '' THEN excluded.contact_name ELSE conversations.contact_name END,
			contact_handle = CASE WHEN excluded.contact_handle != '' THEN excluded.contact_handle ELSE conversations.contact_handle END,
			contact_phone = CASE WHEN excluded.contact_phone != '' THEN excluded.contact_phone ELSE conversations.contact_phone END,
			contact_email = CASE WHEN excluded.contact_email != '' THEN excluded.contact_email ELSE conversations.contact_email END,
			status = excluded.status,
			assignee_id = excluded.assignee_id,
			starred = excluded.starred,
			snoozed_until = excluded.snoozed_until,
			archived = excluded.archived,
			purpose = excluded.purpose,
			unread_count = excluded.unread_count,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at >= conversations.last_message_at
				THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			updated_at = excluded.updated_at`,
		c.ID, c.Channel, c.AccountID, c.Contact.Name, c.Contact.Handle, c.Contact.Phone, c.Contact.Email,
		status, c.AssigneeID, c.Starred, nullMillis(c.SnoozedUntil), c.Archived, purpose, c.UnreadCount,
		toMillis(c.LastMessageAt), model.Preview(c.LastMessagePreview, 100), time.Now().UnixMilli())
	return err
}

// GetConversation returns a single conversation by id.
func (db *DB) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	row := db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Conversation{}, fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}
	return c, err
}

// ListConversations returns the conversations matching q, newest activity
// first. Channel, account and purpose narrow the scan in SQL; the rest of
// the descriptor is evaluated with the same matcher the client uses for
// push merges, so both sides agree on membership.
func (db *DB) ListConversations(ctx context.Context, q filter.Descriptor, me string, now time.Time) ([]model.Conversation, error) {
	q = q.Query()
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE 1 = 1`
	var args []any
	if q.Channel != "" {
		query += " AND channel = ?"
		args = append(args, q.Channel)
	}
	if q.AccountID != "" {
		query += " AND account_id = ?"
		args = append(args, q.AccountID)
	}
	if q.Purpose != "" {
		query += " AND purpose = ?"
		args = append(args, q.Purpose)
	}
	query += " ORDER BY last_message_at DESC, id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	convs := []model.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		if q.Matches(&c, me, now) {
			convs = append(convs, c)
		}
	}
	return convs, rows.Err()
}

// CountConversations computes the account-wide counters. Archived
// conversations only count towards Archived; snoozed ones only towards
// Snoozed.
func (db *DB) CountConversations(ctx context.Context, me string, now time.Time) (model.Counters, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT channel, status, assignee_id, starred, snoozed_until, archived
		FROM conversations`)
	if err != nil {
		return model.Counters{}, err
	}
	defer func() { _ = rows.Close() }()

	c := model.Counters{ByChannel: make(map[model.Channel]int)}
	for rows.Next() {
		var (
			channel  model.Channel
			status   model.Status
			assignee string
			starred  bool
			snoozed  sql.NullInt64
			archived bool
		)
		if err := rows.Scan(&channel, &status, &assignee, &starred, &snoozed, &archived); err != nil {
			return model.Counters{}, err
		}
		switch {
		case archived:
			c.Archived++
			continue
		case snoozed.Valid && fromMillis(snoozed.Int64).After(now):
			c.Snoozed++
			continue
		}
		switch status {
		case model.StatusOpen:
			c.Open++
		case model.StatusPending:
			c.Pending++
		case model.StatusResolved:
			c.Resolved++
		}
		if assignee == "" {
			c.Unassigned++
		} else {
			c.Assigned++
			if assignee == me {
				c.Mine++
			}
		}
		if starred {
			c.Starred++
		}
		c.ByChannel[channel]++
	}
	return c, rows.Err()
}

// NextSeq returns the next push sequence number for an event of
// conversation id. Numbers come from one counter shared by all
// conversations, so they keep increasing even when a deleted conversation
// id reappears.
func (db *DB) NextSeq(ctx context.Context, id string) (int64, error) {
	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM conversations WHERE id = ?)`, id).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}
	var seq int64
	err := db.QueryRowContext(ctx, `UPDATE push_sequence SET value = value + 1 WHERE id = 1 RETURNING value`).Scan(&seq)
	return seq, err
}

// TouchConversation records a new message on the conversation: last-message
// metadata moves forward and inbound messages raise the unread count.
func (db *DB) TouchConversation(ctx context.Context, m *model.Message) error {
	unread := 0
	if m.Direction == model.Inbound && m.Status != model.DeliveryRead {
		unread = 1
	}
	res, err := db.ExecContext(ctx, `
		UPDATE conversations SET
			last_message_preview = CASE WHEN ? >= last_message_at THEN ? ELSE last_message_preview END,
			last_message_at = MAX(last_message_at, ?),
			unread_count = unread_count + ?,
			updated_at = ?
		WHERE id = ?`,
		toMillis(m.CreatedAt), model.Preview(m.Body, 100), toMillis(m.CreatedAt), unread, time.Now().UnixMilli(), m.ConversationID)
	if err != nil {
		return err
	}
	return requireRow(res, "conversation", m.ConversationID)
}

// MarkRead clears the unread count and marks inbound messages read.
func (db *DB) MarkRead(ctx context.Context, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE conversations SET unread_count = 0, updated_at = ? WHERE id = ?`, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("clear unread: %w", err)
	}
	if err := requireRow(res, "conversation", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET status = 'read'
		WHERE conversation_id = ? AND direction = 'inbound' AND status IN ('sent', 'delivered')`, id); err != nil {
		return fmt.Errorf("mark inbound read: %w", err)
	}
	return tx.Commit()
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

// DeleteConversation removes a conversation and its messages after an
// upstream deletion.
func (db *DB) DeleteConversation(ctx context.Context, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if err := requireRow(res, "conversation", id); err != nil {
		return err
	}
	return tx.Commit()
}
