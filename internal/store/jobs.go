package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateJob atomically inserts the job, its ordered targets, and the
// job_queued event. Message assignment: an empty message list becomes a
// single empty message; a short list reuses its last message for the
// remaining targets.
func (s *Store) CreateJob(ctx context.Context, id string, tt TargetType, rawTarget, rawMessage string, destinations, messages []string) (*Job, error) {
	if len(messages) == 0 {
		messages = []string{""}
	}
	now := s.now()
	job := &Job{
		ID:         id,
		TargetType: tt,
		RawTarget:  rawTarget,
		RawMessage: rawMessage,
		Status:     JobQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ts := now.Format(timeFormat)
		if _, err := tx.Exec(
			`INSERT INTO jobs(id, target_type, raw_target, raw_message, status, executor, paused, canceled, error, created_at, updated_at)
			 VALUES(?,?,?,?,?,NULL,0,0,NULL,?,?)`,
			id, string(tt), rawTarget, rawMessage, string(JobQueued), ts, ts,
		); err != nil {
			return err
		}
		for i, dest := range destinations {
			msg := messages[len(messages)-1]
			if i < len(messages) {
				msg = messages[i]
			}
			if _, err := tx.Exec(
				`INSERT INTO job_targets(job_id, destination, message, ord, status, error, updated_at)
				 VALUES(?,?,?,?,?,NULL,?)`,
				id, dest, msg, i, string(TargetPending), ts,
			); err != nil {
				return err
			}
		}
		return s.appendEvent(tx, id, EventJobQueued, fmt.Sprintf("Queued %d target(s)", len(destinations)))
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

const jobCols = `id, target_type, raw_target, raw_message, status, executor, paused, canceled, error, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var (
		j                Job
		executor, jobErr sql.NullString
		created, updated string
		tt, status       string
	)
	err := row.Scan(&j.ID, &tt, &j.RawTarget, &j.RawMessage, &status, &executor, &j.Paused, &j.Canceled, &jobErr, &created, &updated)
	if err != nil {
		return nil, err
	}
	j.TargetType = TargetType(tt)
	j.Status = JobStatus(status)
	j.Executor = executor.String
	j.Error = jobErr.String
	j.CreatedAt = scanTime(created)
	j.UpdatedAt = scanTime(updated)
	return &j, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobCols+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

// ClaimNext picks the earliest-created eligible job, marks it running,
// assigns it to the executor, and appends the job_started event in one
// transaction. Ties on created_at break by job id ascending. Returns
// (nil, nil) when no job is eligible.
//
// Callers must hold the claim arbiter's critical section; the select and the
// update are separate statements, so the transaction alone does not prevent
// two executors from picking the same row.
func (s *Store) ClaimNext(ctx context.Context, executorID string) (*Job, error) {
	var claimed *Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		claimed = nil
		row := tx.QueryRow(
			`SELECT ` + jobCols + ` FROM jobs
			 WHERE status = 'queued' AND canceled = 0 AND paused = 0
			 ORDER BY created_at ASC, id ASC
			 LIMIT 1`,
		)
		j, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		now := s.now()
		if _, err := tx.Exec(
			`UPDATE jobs SET status = 'running', executor = ?, updated_at = ? WHERE id = ?`,
			executorID, now.Format(timeFormat), j.ID,
		); err != nil {
			return err
		}
		if err := s.appendEvent(tx, j.ID, EventJobStarted, "Using executor "+executorID); err != nil {
			return err
		}
		j.Status = JobRunning
		j.Executor = executorID
		j.UpdatedAt = now
		claimed = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Targets returns a job's targets in ordinal order.
func (s *Store) Targets(ctx context.Context, jobID string) ([]Target, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, destination, message, ord, status, error, updated_at
		 FROM job_targets WHERE job_id = ? ORDER BY ord ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Target
	for rows.Next() {
		var (
			t       Target
			terr    sql.NullString
			status  string
			updated string
		)
		if err := rows.Scan(&t.ID, &t.JobID, &t.Destination, &t.Message, &t.Ordinal, &status, &terr, &updated); err != nil {
			return nil, err
		}
		t.Status = TargetStatus(status)
		t.Error = terr.String
		t.UpdatedAt = scanTime(updated)
		out = append(out, t)
	}
	return out, rows.Err()
}

// TargetStatus re-reads one target's current status.
func (s *Store) TargetStatus(ctx context.Context, targetID int64) (TargetStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM job_targets WHERE id = ?`, targetID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return TargetStatus(status), err
}

func (s *Store) MarkTargetRunning(ctx context.Context, targetID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE job_targets SET status = 'running', updated_at = ? WHERE id = ?`,
			s.now().Format(timeFormat), targetID,
		)
		return err
	})
}

// MarkTargetSent records a successful send and appends the target_sent event.
func (s *Store) MarkTargetSent(ctx context.Context, jobID string, targetID int64, destination string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`UPDATE job_targets SET status = 'sent', error = NULL, updated_at = ? WHERE id = ?`,
			s.now().Format(timeFormat), targetID,
		); err != nil {
			return err
		}
		return s.appendEvent(tx, jobID, EventTargetSent, destination)
	})
}

// MarkTargetFailed records a failed send with its error code and appends the
// target_failed event.
func (s *Store) MarkTargetFailed(ctx context.Context, jobID string, targetID int64, destination, code string) error {
	if code == "" {
		code = "unknown_error"
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`UPDATE job_targets SET status = 'failed', error = ?, updated_at = ? WHERE id = ?`,
			code, s.now().Format(timeFormat), targetID,
		); err != nil {
			return err
		}
		return s.appendEvent(tx, jobID, EventTargetFailed, destination+" :: "+code)
	})
}

// MarkJobPaused sets status=paused with a reason event. Used by executors when
// the capability vanishes or stops being ready; the paused flag itself is only
// set by an operator pause.
func (s *Store) MarkJobPaused(ctx context.Context, jobID, detail string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`UPDATE jobs SET status = 'paused', updated_at = ? WHERE id = ?`,
			s.now().Format(timeFormat), jobID,
		); err != nil {
			return err
		}
		return s.appendEvent(tx, jobID, EventJobPaused, detail)
	})
}

// CancelRemainingTargets moves a job's pending/running targets to canceled.
// Used by executors when they observe the canceled flag mid-job.
func (s *Store) CancelRemainingTargets(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE job_targets SET status = 'canceled', updated_at = ?
			 WHERE job_id = ? AND status IN ('pending','running')`,
			s.now().Format(timeFormat), jobID,
		)
		if err != nil {
			return err
		}
		rows, _ := res.RowsAffected()
		n = int(rows)
		return nil
	})
	return n, err
}

// FinalizeJob inspects the job's targets and records the terminal status:
// all sent -> done, some sent -> failed/partial_failure, none -> failed/all_failed.
// A job that was paused or canceled during the run is left untouched.
func (s *Store) FinalizeJob(ctx context.Context, jobID string) (JobStatus, error) {
	var final JobStatus
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRow(`SELECT `+jobCols+` FROM jobs WHERE id = ?`, jobID)
		j, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		final = j.Status
		if j.Paused || j.Canceled || j.Status != JobRunning {
			return nil
		}

		var total, sent int
		if err := tx.QueryRow(
			`SELECT COUNT(*), COALESCE(SUM(status = 'sent'), 0) FROM job_targets WHERE job_id = ?`,
			jobID,
		).Scan(&total, &sent); err != nil {
			return err
		}

		now := s.now().Format(timeFormat)
		switch {
		case sent == total:
			final = JobDone
			if _, err := tx.Exec(`UPDATE jobs SET status = 'done', updated_at = ? WHERE id = ?`, now, jobID); err != nil {
				return err
			}
			return s.appendEvent(tx, jobID, EventJobCompleted, "All targets sent")
		case sent > 0:
			final = JobFailed
			if _, err := tx.Exec(`UPDATE jobs SET status = 'failed', error = ?, updated_at = ? WHERE id = ?`, ErrorPartialFailure, now, jobID); err != nil {
				return err
			}
			return s.appendEvent(tx, jobID, EventJobFailed, "Partial failure")
		default:
			final = JobFailed
			if _, err := tx.Exec(`UPDATE jobs SET status = 'failed', error = ?, updated_at = ? WHERE id = ?`, ErrorAllFailed, now, jobID); err != nil {
				return err
			}
			return s.appendEvent(tx, jobID, EventJobFailed, "All failed")
		}
	})
	return final, err
}

// CancelJob sets the canceled flag, moves queued/paused jobs to canceled
// status, and cancels any pending/running targets.
func (s *Store) CancelJob(ctx context.Context, jobID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		j, err := lockJob(tx, jobID)
		if err != nil {
			return err
		}
		now := s.now().Format(timeFormat)
		status := j.Status
		if status == JobQueued || status == JobPaused {
			status = JobCanceled
		}
		if _, err := tx.Exec(
			`UPDATE jobs SET canceled = 1, status = ?, updated_at = ? WHERE id = ?`,
			string(status), now, jobID,
		); err != nil {
			return err
		}
		if _, err := tx.Exec(
			`UPDATE job_targets SET status = 'canceled', updated_at = ?
			 WHERE job_id = ? AND status IN ('pending','running')`,
			now, jobID,
		); err != nil {
			return err
		}
		return s.appendEvent(tx, jobID, EventJobCanceled, "Cancellation requested")
	})
}

// PauseJob sets the paused flag and status.
func (s *Store) PauseJob(ctx context.Context, jobID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockJob(tx, jobID); err != nil {
			return err
		}
		if _, err := tx.Exec(
			`UPDATE jobs SET paused = 1, status = 'paused', updated_at = ? WHERE id = ?`,
			s.now().Format(timeFormat), jobID,
		); err != nil {
			return err
		}
		return s.appendEvent(tx, jobID, EventJobPaused, "Pause requested")
	})
}

// ResumeJob clears the paused flag and re-queues paused/failed jobs.
func (s *Store) ResumeJob(ctx context.Context, jobID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		j, err := lockJob(tx, jobID)
		if err != nil {
			return err
		}
		status := j.Status
		if status == JobPaused || status == JobFailed {
			status = JobQueued
		}
		if _, err := tx.Exec(
			`UPDATE jobs SET paused = 0, status = ?, updated_at = ? WHERE id = ?`,
			string(status), s.now().Format(timeFormat), jobID,
		); err != nil {
			return err
		}
		return s.appendEvent(tx, jobID, EventJobResumed, "Resume requested")
	})
}

// RetryJob resets failed/canceled targets to pending, clears the job's flags
// and error, and re-queues it.
func (s *Store) RetryJob(ctx context.Context, jobID string) (int, error) {
	var reset int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockJob(tx, jobID); err != nil {
			return err
		}
		now := s.now().Format(timeFormat)
		res, err := tx.Exec(
			`UPDATE job_targets SET status = 'pending', error = NULL, updated_at = ?
			 WHERE job_id = ? AND status IN ('failed','canceled')`,
			now, jobID,
		)
		if err != nil {
			return err
		}
		rows, _ := res.RowsAffected()
		reset = int(rows)
		if _, err := tx.Exec(
			`UPDATE jobs SET canceled = 0, paused = 0, status = 'queued', error = NULL, updated_at = ? WHERE id = ?`,
			now, jobID,
		); err != nil {
			return err
		}
		return s.appendEvent(tx, jobID, EventJobRetried, fmt.Sprintf("Reset %d target(s) to pending", reset))
	})
	return reset, err
}

func lockJob(tx *sql.Tx, jobID string) (*Job, error) {
	row := tx.QueryRow(`SELECT `+jobCols+` FROM jobs WHERE id = ?`, jobID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

// Snapshot reads the job, its targets in ordinal order, and the timeline
// ordered by (ts, id).
func (s *Store) Snapshot(ctx context.Context, jobID string) (*Snapshot, error) {
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	targets, err := s.Targets(ctx, jobID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, ts, kind, detail FROM job_events
		 WHERE job_id = ? ORDER BY ts ASC, id ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var timeline []Event
	for rows.Next() {
		var (
			e  Event
			ts string
		)
		if err := rows.Scan(&e.ID, &e.JobID, &ts, &e.Kind, &e.Detail); err != nil {
			return nil, err
		}
		e.TS = scanTime(ts)
		timeline = append(timeline, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &Snapshot{Job: *j, Targets: targets, Timeline: timeline}, nil
}

// CountPendingTargets counts pending targets whose job is still eligible to
// be claimed. This is the backlog signal the capacity controller scales on.
func (s *Store) CountPendingTargets(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM job_targets t
		 JOIN jobs j ON j.id = t.job_id
		 WHERE j.status = 'queued' AND j.canceled = 0 AND j.paused = 0
		   AND t.status = 'pending'`,
	).Scan(&n)
	return n, err
}

func (s *Store) CountsSnapshot(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM jobs WHERE status = 'queued' AND canceled = 0 AND paused = 0),
		   (SELECT COUNT(*) FROM jobs WHERE status = 'running')`,
	).Scan(&c.QueuedJobs, &c.RunningJobs)
	if err != nil {
		return Counts{}, err
	}
	c.PendingTargets, err = s.CountPendingTargets(ctx)
	return c, err
}

// GroupDestinations returns the destinations filed under a contact group.
func (s *Store) GroupDestinations(ctx context.Context, group string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT destination FROM contacts WHERE group_name = ? ORDER BY id ASC`, group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) AddContact(ctx context.Context, c Contact) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`INSERT INTO contacts(name, destination, group_name, created_at) VALUES(?,?,?,?)`,
			c.Name, c.Destination, nullStr(c.Group), s.now().Format(timeFormat),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

func (s *Store) ContactsByGroup(ctx context.Context, group string) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, destination, COALESCE(group_name, ''), created_at
		 FROM contacts WHERE group_name = ? ORDER BY id ASC`, group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var (
			c       Contact
			created string
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Destination, &c.Group, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = scanTime(created)
		out = append(out, c)
	}
	return out, rows.Err()
}
