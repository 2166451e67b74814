package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CommitTransition writes a processed task back under a compare-and-set on its
// prior status. When another writer already moved the task past expected, no
// row is updated and ErrStatusConflict is returned; the caller must discard
// its work. A winning commit also appends a change event so downstream
// listeners observe the new status exactly once.
func (s *Store) CommitTransition(ctx context.Context, t *Task, expected Status) error {
	if t == nil {
		return errors.New("task is nil")
	}
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	metadata, analysis, publish, agentLog, err := marshalDocuments(t)
	if err != nil {
		return err
	}

	err = retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transition tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(
			ctx,
			`UPDATE tasks SET
                status = ?, workflow_step = ?, metadata_json = ?,
                color_analysis_json = ?, publish_results_json = ?,
                agent_log_json = ?, retry_count = ?, last_error = ?,
                updated_at = ?
             WHERE id = ? AND status = ?`,
			t.Status,
			t.WorkflowStep,
			metadata,
			analysis,
			publish,
			agentLog,
			t.Retry.Count,
			nullableString(t.Retry.LastError),
			timestamp,
			t.ID,
			expected,
		)
		if err != nil {
			return fmt.Errorf("commit transition: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return ErrStatusConflict
		}

		if err := insertChange(ctx, tx, t.ID, t.Status, timestamp); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transition tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	t.UpdatedAt = now
	return nil
}

// RecordFailure persists retry bookkeeping for a task that stays in its
// current status, guarded on that status so a stale snapshot cannot overwrite
// a concurrent writer's committed results. It deliberately does not emit a
// change event, so a failed attempt never re-triggers dispatch on its own;
// redelivery comes from the dispatcher's retry schedule, or from the
// listener's startup sweep after a restart.
func (s *Store) RecordFailure(ctx context.Context, t *Task) error {
	if t == nil {
		return errors.New("task is nil")
	}
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	metadata, analysis, publish, agentLog, err := marshalDocuments(t)
	if err != nil {
		return err
	}

	err = retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE tasks SET
                metadata_json = ?, color_analysis_json = ?,
                publish_results_json = ?, agent_log_json = ?,
                retry_count = ?, last_error = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			metadata,
			analysis,
			publish,
			agentLog,
			t.Retry.Count,
			nullableString(t.Retry.LastError),
			timestamp,
			t.ID,
			t.Status,
		)
		if err != nil {
			return fmt.Errorf("record failure: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return ErrStatusConflict
		}
		return nil
	})
	if err != nil {
		return err
	}
	t.UpdatedAt = now
	return nil
}

// AppendLogEntry adds an audit entry to a task's agent log without touching
// its status or retry metadata.
func (s *Store) AppendLogEntry(ctx context.Context, taskID int64, agent, action, note string) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin log tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
		t, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: id %d", ErrTaskNotFound, taskID)
		}
		if err != nil {
			return fmt.Errorf("load task for log append: %w", err)
		}

		t.AppendLog(agent, action, note)
		_, _, _, agentLog, err := marshalDocuments(t)
		if err != nil {
			return err
		}

		timestamp := time.Now().UTC().Format(time.RFC3339Nano)
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE tasks SET agent_log_json = ?, updated_at = ? WHERE id = ?`,
			agentLog,
			timestamp,
			taskID,
		); err != nil {
			return fmt.Errorf("append log entry: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit log tx: %w", err)
		}
		return nil
	})
}

// AppendPhoto registers another source photo on a task that has not started
// processing. Photos cannot join a task mid-pipeline; once color correction
// has won the task the photo set is fixed.
func (s *Store) AppendPhoto(ctx context.Context, taskID int64, photoURL string) (*Task, error) {
	ctx = ensureContext(ctx)
	var updated *Task
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin photo tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
		t, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: id %d", ErrTaskNotFound, taskID)
		}
		if err != nil {
			return fmt.Errorf("load task for photo append: %w", err)
		}
		if t.Status != StatusUploaded {
			return fmt.Errorf("%w: task %d is %s", ErrTaskInProgress, taskID, t.Status)
		}

		t.Metadata.PhotoURLs = append(t.Metadata.PhotoURLs, photoURL)
		t.AppendLog(AgentUploader, ActionPhotoUploaded, fmt.Sprintf("registered photo %d at %s", len(t.Metadata.PhotoURLs), photoURL))

		metadata, _, _, agentLog, err := marshalDocuments(t)
		if err != nil {
			return err
		}

		timestamp := time.Now().UTC().Format(time.RFC3339Nano)
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE tasks SET metadata_json = ?, agent_log_json = ?, updated_at = ? WHERE id = ?`,
			metadata,
			agentLog,
			timestamp,
			taskID,
		); err != nil {
			return fmt.Errorf("append photo: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit photo tx: %w", err)
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ResetFailed moves a FAILED task back to the start status of the step it
// failed in, clearing retry bookkeeping so the pipeline picks it up again.
// This is an operator action, not part of automatic dispatch.
func (s *Store) ResetFailed(ctx context.Context, taskID int64) (*Task, error) {
	ctx = ensureContext(ctx)
	t, err := s.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: id %d", ErrTaskNotFound, taskID)
	}
	if t.Status != StatusFailed {
		return nil, fmt.Errorf("task %d is %s, only FAILED tasks can be reset", taskID, t.Status)
	}

	var target Status
	switch t.WorkflowStep {
	case 2:
		target = StatusColorCorrected
	default:
		target = StatusUploaded
	}

	t.SetStatus(target)
	t.Retry = RetryMetadata{}
	t.AppendLog(AgentDispatcher, ActionRetryRequested, fmt.Sprintf("operator reset to %s", target))
	if err := s.CommitTransition(ctx, t, StatusFailed); err != nil {
		return nil, err
	}
	return t, nil
}
