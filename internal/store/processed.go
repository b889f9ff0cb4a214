package store

import "context"

// MarkProcessed records a provider event id. It reports false when the
// event was seen before, so at-least-once deliveries are applied once.
func (db *DB) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO processed_events (event_id, processed_at) VALUES (?, strftime('%s','now') * 1000) ON CONFLICT(event_id) DO NOTHING`,
		eventID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
