package store

import (
	"context"
	"database/sql"
	"fmt"
)

// RecoverStartup reconciles work interrupted by an unclean shutdown: every
// running job reverts to queued and its running targets revert to pending
// with errors cleared, each with a recovered event. Idempotent: a second run
// finds no running jobs and changes nothing.
//
// Must complete before any executor or controller loop starts.
func (s *Store) RecoverStartup(ctx context.Context) (int, error) {
	var recovered int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		recovered = 0
		rows, err := tx.Query(`SELECT id FROM jobs WHERE status = 'running'`)
		if err != nil {
			return err
		}
		ids, err := collectIDs(rows)
		if err != nil {
			return err
		}

		now := s.now().Format(timeFormat)
		for _, id := range ids {
			if _, err := tx.Exec(
				`UPDATE jobs SET status = 'queued', updated_at = ? WHERE id = ?`, now, id,
			); err != nil {
				return err
			}
			if _, err := tx.Exec(
				`UPDATE job_targets SET status = 'pending', error = NULL, updated_at = ?
				 WHERE job_id = ? AND status = 'running'`,
				now, id,
			); err != nil {
				return err
			}
			if err := s.appendEvent(tx, id, EventRecovered, "Recovered on startup"); err != nil {
				return err
			}
			recovered++
		}
		return nil
	})
	return recovered, err
}

// BulkRecover is the operator-triggered wide recovery: jobs in
// {paused, failed, canceled, queued} re-queue with flags and errors cleared,
// and their non-sent targets reset to pending. Returns (jobs updated,
// targets reset).
func (s *Store) BulkRecover(ctx context.Context) (int, int, error) {
	var updatedJobs, resetTargets int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		updatedJobs, resetTargets = 0, 0
		rows, err := tx.Query(`SELECT id FROM jobs WHERE status IN ('paused','failed','canceled','queued')`)
		if err != nil {
			return err
		}
		ids, err := collectIDs(rows)
		if err != nil {
			return err
		}

		now := s.now().Format(timeFormat)
		for _, id := range ids {
			if _, err := tx.Exec(
				`UPDATE jobs SET canceled = 0, paused = 0, status = 'queued', error = NULL, updated_at = ? WHERE id = ?`,
				now, id,
			); err != nil {
				return err
			}
			res, err := tx.Exec(
				`UPDATE job_targets SET status = 'pending', error = NULL, updated_at = ?
				 WHERE job_id = ? AND status IN ('failed','canceled','pending','running')`,
				now, id,
			)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			if err := s.appendEvent(tx, id, EventJobRecovered,
				fmt.Sprintf("Recovered by /recover; reset %d target(s)", n)); err != nil {
				return err
			}
			updatedJobs++
			resetTargets += int(n)
		}
		return nil
	})
	return updatedJobs, resetTargets, err
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
