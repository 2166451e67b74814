package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ChangeEvent is one row of the append-only status change feed. Seq is the
// monotonic resume token; a consumer that persists the last Seq it processed
// can restart without replaying or missing transitions.
type ChangeEvent struct {
	Seq       int64
	TaskID    int64
	NewStatus Status
	ChangedAt time.Time
}

func insertChange(ctx context.Context, tx *sql.Tx, taskID int64, status Status, timestamp string) error {
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO task_changes (task_id, new_status, changed_at) VALUES (?, ?, ?)`,
		taskID,
		status,
		timestamp,
	); err != nil {
		return fmt.Errorf("insert change event: %w", err)
	}
	return nil
}

// Changes returns up to limit change events with Seq greater than afterSeq,
// in feed order.
func (s *Store) Changes(ctx context.Context, afterSeq int64, limit int) ([]ChangeEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT seq, task_id, new_status, changed_at
           FROM task_changes
          WHERE seq > ?
          ORDER BY seq
          LIMIT ?`,
		afterSeq,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	var events []ChangeEvent
	for rows.Next() {
		var (
			event      ChangeEvent
			statusStr  string
			changedRaw string
		)
		if err := rows.Scan(&event.Seq, &event.TaskID, &statusStr, &changedRaw); err != nil {
			return nil, err
		}
		event.NewStatus = Status(statusStr)
		if changed, err := parseTimeString(changedRaw); err == nil {
			event.ChangedAt = changed
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// ChangedTaskIDs returns the distinct task ids with a change event after
// afterSeq. Feed consumers use it to tell which dispatchable tasks the tail
// will deliver anyway.
func (s *Store) ChangedTaskIDs(ctx context.Context, afterSeq int64) (map[int64]struct{}, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT DISTINCT task_id FROM task_changes WHERE seq > ?`,
		afterSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("query changed task ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// MinChangeSeq returns the smallest sequence still present in the feed, or 0
// when the feed is empty. A persisted position below this value minus one
// means history has been pruned past the consumer.
func (s *Store) MinChangeSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ensureContext(ctx), `SELECT MIN(seq) FROM task_changes`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("min change seq: %w", err)
	}
	return seq.Int64, nil
}

// MaxChangeSeq returns the latest sequence in the feed, or 0 when empty.
func (s *Store) MaxChangeSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ensureContext(ctx), `SELECT MAX(seq) FROM task_changes`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max change seq: %w", err)
	}
	return seq.Int64, nil
}

// PruneChanges removes change events older than keep, returning how many rows
// were deleted. Consumers whose saved position falls behind the pruned window
// detect it via MinChangeSeq and rescan.
func (s *Store) PruneChanges(ctx context.Context, keep time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-keep).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ensureContext(ctx),
		`DELETE FROM task_changes WHERE changed_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("prune changes: %w", err)
	}
	return res.RowsAffected()
}

// LoadFeedPosition returns the persisted resume token for a consumer. The
// second return is false when the consumer has no saved position yet.
func (s *Store) LoadFeedPosition(ctx context.Context, consumer string) (int64, bool, error) {
	var seq int64
	err := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT seq FROM feed_positions WHERE consumer = ?`,
		consumer,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load feed position: %w", err)
	}
	return seq, true, nil
}

// SaveFeedPosition persists the resume token for a consumer.
func (s *Store) SaveFeedPosition(ctx context.Context, consumer string, seq int64) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(
			ctx,
			`INSERT INTO feed_positions (consumer, seq) VALUES (?, ?)
             ON CONFLICT(consumer) DO UPDATE SET seq = excluded.seq`,
			consumer,
			seq,
		)
		if err != nil {
			return fmt.Errorf("save feed position: %w", err)
		}
		return nil
	})
}
