package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Enrichment queue item statuses. pending → processing → terminal; a
// terminal item is history and a re-tag inserts a fresh row.
const (
	QueueStatusPending    = "pending"
	QueueStatusProcessing = "processing"
	QueueStatusCompleted  = "completed"
	QueueStatusFailed     = "failed"
	QueueStatusSkipped    = "skipped"
)

// QueueItem is one device identifier tagged for external lookup.
type QueueItem struct {
	TagID           int64    `json:"tag_id"`
	BSSID           string   `json:"bssid"`
	Status          string   `json:"status"`
	Priority        int      `json:"priority"`
	TaggedAtUnix    float64  `json:"tagged_at_unix"`
	ProcessedAtUnix *float64 `json:"processed_at_unix"`
	ErrorMessage    *string  `json:"error_message"`
	RecordsFound    int      `json:"records_found"`
	LocationsFound  int      `json:"locations_found"`
}

// TagForEnrichment queues a device for external lookup. If a pending or
// processing item for the device already exists this only raises its
// priority, so duplicate work is never scheduled. Returns true when a new
// item was created.
func (db *DB) TagForEnrichment(ctx context.Context, deviceID string, priority int) (bool, error) {
	if deviceID == "" {
		return false, fmt.Errorf("cannot tag empty device identifier")
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		}
	}()

	// Raise priority on an existing live item instead of inserting a
	// duplicate.
	result, err := tx.ExecContext(ctx, `
		UPDATE enrichment_queue SET priority = MAX(priority, ?)
		WHERE bssid = ? AND status IN ('pending', 'processing')
	`, priority, deviceID)
	if err != nil {
		return false, fmt.Errorf("failed to tag %s for enrichment: %w", deviceID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO enrichment_queue (bssid, priority) VALUES (?, ?)
	`, deviceID, priority); err != nil {
		return false, fmt.Errorf("failed to tag %s for enrichment: %w", deviceID, err)
	}
	return true, tx.Commit()
}

// ClaimPending atomically claims up to limit pending items in
// (priority desc, tagged_at asc) order, marking each processing. The
// status check in the UPDATE makes the claim fail loudly if another worker
// got there first.
func (db *DB) ClaimPending(ctx context.Context, limit int) ([]QueueItem, error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		}
	}()

	rows, err := tx.QueryContext(ctx, `
		SELECT tag_id, bssid, status, priority, tagged_at_unix,
		       processed_at_unix, error_message, records_found, locations_found
		FROM enrichment_queue
		WHERE status = 'pending'
		ORDER BY priority DESC, tagged_at_unix ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending queue items: %w", err)
	}

	var items []QueueItem
	for rows.Next() {
		var it QueueItem
		if err := rows.Scan(
			&it.TagID, &it.BSSID, &it.Status, &it.Priority, &it.TaggedAtUnix,
			&it.ProcessedAtUnix, &it.ErrorMessage, &it.RecordsFound, &it.LocationsFound,
		); err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range items {
		result, err := tx.ExecContext(ctx, `
			UPDATE enrichment_queue SET status = 'processing'
			WHERE tag_id = ? AND status = 'pending'
		`, items[i].TagID)
		if err != nil {
			return nil, fmt.Errorf("failed to claim queue item %d: %w", items[i].TagID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected != 1 {
			return nil, fmt.Errorf("queue item %d was claimed by another worker", items[i].TagID)
		}
		items[i].Status = QueueStatusProcessing
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return items, nil
}

func (db *DB) finishQueueItem(ctx context.Context, tagID int64, status string, errorMessage *string, records, locations int) error {
	result, err := db.ExecContext(ctx, `
		UPDATE enrichment_queue SET
			status = ?,
			processed_at_unix = UNIXEPOCH('subsec'),
			error_message = ?,
			records_found = ?,
			locations_found = ?
		WHERE tag_id = ? AND status = 'processing'
	`, status, errorMessage, records, locations, tagID)
	if err != nil {
		return fmt.Errorf("failed to finish queue item %d: %w", tagID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("queue item %d is not in processing state", tagID)
	}
	return nil
}

// CompleteQueueItem marks a processing item completed with its result
// counts. A lookup that found nothing is still completed, with zero counts.
func (db *DB) CompleteQueueItem(ctx context.Context, tagID int64, records, locations int) error {
	return db.finishQueueItem(ctx, tagID, QueueStatusCompleted, nil, records, locations)
}

// FailQueueItem marks a processing item failed with a captured error.
func (db *DB) FailQueueItem(ctx context.Context, tagID int64, errorMessage string) error {
	return db.finishQueueItem(ctx, tagID, QueueStatusFailed, &errorMessage, 0, 0)
}

// SkipQueueItem marks a processing item skipped (e.g. whitelisted device).
func (db *DB) SkipQueueItem(ctx context.Context, tagID int64, reason string) error {
	return db.finishQueueItem(ctx, tagID, QueueStatusSkipped, &reason, 0, 0)
}

// ListQueue returns queue items, optionally filtered by status, newest tag
// first.
func (db *DB) ListQueue(ctx context.Context, status string, limit int) ([]QueueItem, error) {
	query := `
		SELECT tag_id, bssid, status, priority, tagged_at_unix,
		       processed_at_unix, error_message, records_found, locations_found
		FROM enrichment_queue
	`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY tagged_at_unix DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	var items []QueueItem
	for rows.Next() {
		var it QueueItem
		if err := rows.Scan(
			&it.TagID, &it.BSSID, &it.Status, &it.Priority, &it.TaggedAtUnix,
			&it.ProcessedAtUnix, &it.ErrorMessage, &it.RecordsFound, &it.LocationsFound,
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// PendingQueueCount returns the number of pending items.
func (db *DB) PendingQueueCount(ctx context.Context) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM enrichment_queue WHERE status = 'pending'`).Scan(&n)
	return n, err
}
