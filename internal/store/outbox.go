package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/inbox/internal/model"
)

// OutboxEntry is an outbound send waiting for, or done with, delivery.
type OutboxEntry struct {
	ID             int64
	CorrelationID  string
	MessageID      string
	ConversationID string
	Channel        model.Channel
	Body           string
	Media          *model.Media
	Sender         string
	Status         string // queued, sending, sent, failed
	Attempts       int
	ErrorMessage   string
	ProviderMsgID  string
	CreatedAt      time.Time
}

// ErrDuplicate is returned when an outbox entry with the same correlation
// id already exists.
var ErrDuplicate = errors.New("store: duplicate correlation id")

const outboxColumns = `id, correlation_id, msg_id, conversation_id, channel, body, media_json, sender,
	status, attempts, error_message, provider_msg_id, created_at`

func scanOutbox(row rowScanner) (OutboxEntry, error) {
	var (
		e         OutboxEntry
		mediaJSON string
		createdAt int64
	)
	err := row.Scan(&e.ID, &e.CorrelationID, &e.MessageID, &e.ConversationID, &e.Channel, &e.Body, &mediaJSON, &e.Sender,
		&e.Status, &e.Attempts, &e.ErrorMessage, &e.ProviderMsgID, &createdAt)
	if err != nil {
		return OutboxEntry{}, err
	}
	if mediaJSON != "" {
		var m model.Media
		if err := json.Unmarshal([]byte(mediaJSON), &m); err != nil {
			return OutboxEntry{}, fmt.Errorf("decode outbox media: %w", err)
		}
		e.Media = &m
	}
	e.CreatedAt = fromMillis(createdAt)
	return e, nil
}

// QueueOutbox adds a send to the outbox. A second entry with the same
// correlation id fails with ErrDuplicate.
func (db *DB) QueueOutbox(ctx context.Context, e *OutboxEntry) error {
	mediaJSON := ""
	if e.Media != nil {
		b, err := json.Marshal(e.Media)
		if err != nil {
			return fmt.Errorf("encode outbox media: %w", err)
		}
		mediaJSON = string(b)
	}
	now := time.Now().UnixMilli()
	res, err := db.ExecContext(ctx, `
		INSERT INTO outbox (correlation_id, msg_id, conversation_id, channel, body, media_json, sender, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'queued', ?, ?)
		ON CONFLICT(correlation_id) DO NOTHING`,
		e.CorrelationID, e.MessageID, e.ConversationID, e.Channel, e.Body, mediaJSON, e.Sender, now, now)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("queue %q: %w", e.CorrelationID, ErrDuplicate)
	}
	e.Status = "queued"
	return nil
}

// ClaimOutbox moves a queued entry to 'sending'. It reports false when
// another worker got there first.
func (db *DB) ClaimOutbox(ctx context.Context, correlationID string) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE outbox SET status = 'sending', attempts = attempts + 1, updated_at = ?
		WHERE correlation_id = ? AND status = 'queued'`, time.Now().UnixMilli(), correlationID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkOutboxSent updates an outbox entry to 'sent' with the provider message ID.
func (db *DB) MarkOutboxSent(ctx context.Context, correlationID, providerMsgID string) error {
	_, err := db.ExecContext(ctx, `UPDATE outbox SET status = 'sent', provider_msg_id = ?, updated_at = ? WHERE correlation_id = ?`,
		providerMsgID, time.Now().UnixMilli(), correlationID)
	return err
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(ctx context.Context, correlationID, errMsg string) error {
	_, err := db.ExecContext(ctx, `UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE correlation_id = ?`,
		errMsg, time.Now().UnixMilli(), correlationID)
	return err
}

// RequeueStale returns entries stuck in 'sending' since before cutoff to
// the queue, e.g. after a crash mid-delivery.
func (db *DB) RequeueStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `UPDATE outbox SET status = 'queued' WHERE status = 'sending' AND updated_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetOutbox returns the entry for a correlation id.
func (db *DB) GetOutbox(ctx context.Context, correlationID string) (OutboxEntry, error) {
	e, err := scanOutbox(db.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM outbox WHERE correlation_id = ?`, correlationID))
	if errors.Is(err, sql.ErrNoRows) {
		return OutboxEntry{}, fmt.Errorf("outbox %q: %w", correlationID, ErrNotFound)
	}
	return e, err
}

// PendingOutbox returns outbox entries that are still queued.
func (db *DB) PendingOutbox(ctx context.Context) ([]OutboxEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox WHERE status = 'queued' ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
