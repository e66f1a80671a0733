package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ShouldRotate reports whether no rotation has run within period, meaning
// the next pass should truncate old rows. Rotation happens at most once per
// period regardless of how often passes run.
func (s *Store) ShouldRotate(ctx context.Context, period time.Duration) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM rotateLog WHERE timestamp > ?`,
		s.threshold(period),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("query rotate log: %w", err)
	}
	return count == 0, nil
}

// LogRotate records a rotation together with the id and timestamp extents
// of the content table at that moment. Recording happens before truncation,
// so a crash mid-rotation never causes a second truncation within the
// period.
func (s *Store) LogRotate(ctx context.Context) (int64, error) {
	var minID, maxID sql.NullInt64
	var minTS, maxTS sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(contentId), MAX(contentId), MIN(timestamp), MAX(timestamp) FROM content`,
	).Scan(&minID, &maxID, &minTS, &maxTS)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("query content extents: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rotateLog (timestamp, minContentId, maxContentId, minTimestamp, maxTimestamp)
		VALUES (?, ?, ?, ?, ?)
	`, s.formatNow(), minID, maxID, minTS, maxTS)
	if err != nil {
		return 0, fmt.Errorf("insert rotate log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("rotate log id: %w", err)
	}
	return id, nil
}

// Truncate deletes content older than period along with its dependent rows,
// and trims the log and updateLog tables to the same horizon. Children of a
// deleted parent go regardless of their own age, and children are removed
// before parents inside one transaction. rotateLog is never trimmed; it is
// the rotation history itself.
func (s *Store) Truncate(ctx context.Context, period time.Duration) error {
	thr := s.threshold(period)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin truncate: %w", err)
	}
	defer tx.Rollback()

	// Children first: their own old rows, plus any child whose parent is
	// about to be deleted. summary and classifyResult rows follow via
	// ON DELETE CASCADE.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM content
		WHERE parentContentId IS NOT NULL
		  AND (timestamp <= ? OR parentContentId IN (
			SELECT contentId FROM content
			WHERE parentContentId IS NULL AND timestamp <= ?
		  ))
	`, thr, thr)
	if err != nil {
		return fmt.Errorf("delete old child content: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM content WHERE parentContentId IS NULL AND timestamp <= ?`, thr)
	if err != nil {
		return fmt.Errorf("delete old content: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM log WHERE timestamp <= ?`, thr); err != nil {
		return fmt.Errorf("delete old log rows: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM updateLog WHERE timestamp <= ?`, thr); err != nil {
		return fmt.Errorf("delete old update log rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit truncate: %w", err)
	}
	return nil
}
