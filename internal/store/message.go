package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/inbox/internal/model"
)

const messageColumns = `msg_id, conversation_id, correlation_id, direction, body,
	media_url, media_type, media_filename, media_size, media_mime,
	status, failure_reason, sender, created_at`

// statusRank mirrors model.DeliveryStatus.Rank so status updates stay
// monotonic inside a single statement.
func statusRank(col string) string {
	return `CASE ` + col + ` WHEN 'pending' THEN 1 WHEN 'sent' THEN 2 WHEN 'delivered' THEN 3
		WHEN 'read' THEN 4 WHEN 'failed' THEN 5 ELSE 0 END`
}

func scanMessage(row rowScanner) (model.Message, error) {
	var (
		m         model.Message
		media     model.Media
		createdAt int64
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.CorrelationID, &m.Direction, &m.Body,
		&media.URL, &media.Type, &media.Filename, &media.Size, &media.MIME,
		&m.Status, &m.FailureReason, &m.Sender, &createdAt)
	if err != nil {
		return model.Message{}, err
	}
	if media != (model.Media{}) {
		m.Media = &media
	}
	m.CreatedAt = fromMillis(createdAt)
	return m, nil
}

// UpsertMessage inserts or updates a message (idempotent on its id). When
// an earlier row carries the same correlation id under another id, that
// row is adopted so a provider echo replaces the local copy. Status never
// moves backwards. created reports whether a new row was inserted.
func (db *DB) UpsertMessage(ctx context.Context, m *model.Message) (created bool, err error) {
	if m.ID == "" || m.ConversationID == "" {
		return false, errors.New("upsert message: id and conversation id are required")
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if m.CorrelationID != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET msg_id = ? WHERE correlation_id = ? AND msg_id != ?`,
			m.ID, m.CorrelationID, m.ID); err != nil {
			return false, fmt.Errorf("adopt correlated message: %w", err)
		}
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM messages WHERE msg_id = ?)`, m.ID).Scan(&exists); err != nil {
		return false, err
	}

	status := m.Status
	if status == "" {
		status = model.DeliverySent
	}
	var media model.Media
	if m.Media != nil {
		media = *m.Media
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (msg_id, conversation_id, correlation_id, direction, body,
			media_url, media_type, media_filename, media_size, media_mime,
			status, failure_reason, sender, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(msg_id) DO UPDATE SET
			correlation_id = CASE WHEN excluded.correlation_id != '' THEN excluded.correlation_id ELSE messages.correlation_id END,
			body = excluded.body,
			media_url = excluded.media_url,
			media_type = excluded.media_type,
			media_filename = excluded.media_filename,
			media_size = excluded.media_size,
			media_mime = excluded.media_mime,
			sender = CASE WHEN excluded.sender != '' THEN excluded.sender ELSE messages.sender END,
			status = CASE WHEN `+statusRank("excluded.status")+` > `+statusRank("messages.status")+`
				THEN excluded.status ELSE messages.status END,
			failure_reason = CASE WHEN `+statusRank("excluded.status")+` > `+statusRank("messages.status")+`
				THEN excluded.failure_reason ELSE messages.failure_reason END`,
		m.ID, m.ConversationID, m.CorrelationID, m.Direction, m.Body,
		media.URL, media.Type, media.Filename, media.Size, media.MIME,
		status, m.FailureReason, m.Sender, toMillis(m.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("upsert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return !exists, nil
}

// ListMessages returns up to limit messages of a conversation created
// before the given instant, oldest first. A zero before means the newest
// page.
func (db *DB) ListMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	beforeMs := time.Now().UnixMilli() + 1
	if !before.IsZero() {
		beforeMs = before.UnixMilli()
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND created_at < ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, conversationID, beforeMs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	msgs := []model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// GetMessage looks a message up by id, or by correlation id when id is
// empty.
func (db *DB) GetMessage(ctx context.Context, id, correlationID string) (model.Message, error) {
	var row *sql.Row
	switch {
	case id != "":
		row = db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE msg_id = ?`, id)
	case correlationID != "":
		row = db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE correlation_id = ?`, correlationID)
	default:
		return model.Message{}, fmt.Errorf("message: %w", ErrNotFound)
	}
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, fmt.Errorf("message %q/%q: %w", id, correlationID, ErrNotFound)
	}
	return m, err
}

// UpdateMessageStatus moves a message forward to status. changed is false
// when the update would have moved it backwards.
func (db *DB) UpdateMessageStatus(ctx context.Context, id, correlationID string, status model.DeliveryStatus, reason string) (m model.Message, changed bool, err error) {
	cur, err := db.GetMessage(ctx, id, correlationID)
	if err != nil {
		return model.Message{}, false, err
	}
	if status.Rank() <= cur.Status.Rank() {
		return cur, false, nil
	}
	if status != model.DeliveryFailed {
		reason = ""
	}
	res, err := db.ExecContext(ctx, `
		UPDATE messages SET status = ?, failure_reason = ?
		WHERE msg_id = ? AND `+statusRank("status")+` < ?`,
		status, reason, cur.ID, status.Rank())
	if err != nil {
		return model.Message{}, false, fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Raced with a newer status.
		cur, err = db.GetMessage(ctx, cur.ID, "")
		return cur, false, err
	}
	cur.Status, cur.FailureReason = status, reason
	return cur, true, nil
}

// SearchMessages returns messages whose body contains text, newest first,
// optionally limited to one conversation.
func (db *DB) SearchMessages(ctx context.Context, text, conversationID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + messageColumns + ` FROM messages WHERE instr(lower(body), lower(?)) > 0`
	args := []any{text}
	if conversationID != "" {
		q += " AND conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	results := []model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}
