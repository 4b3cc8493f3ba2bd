// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agencyops/mailflow/internal/models"
)

const queueColumns = `id, project_id, trigger_id, to_email, COALESCE(cc_emails, ''),
	subject, body, scheduled_for, status, attempts, COALESCE(error, ''),
	mail_server_id, sent_at, last_attempt, created_at`

// Enqueue inserts a queue entry and returns its id.
func (s *Store) Enqueue(ctx context.Context, e *models.QueueEntry) (int64, error) {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO email_queue
			(project_id, trigger_id, to_email, cc_emails, subject, body,
			 scheduled_for, status, mail_server_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, e.ProjectID, e.TriggerID, e.ToEmail, e.CCEmails, e.Subject, e.Body,
		e.ScheduledFor, string(e.Status), e.MailServerID, createdAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert queue entry: %w", err)
	}
	return id, nil
}

// Entry loads one queue entry, or nil when it does not exist.
func (s *Store) Entry(ctx context.Context, id int64) (*models.QueueEntry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+queueColumns+` FROM email_queue WHERE id = $1`, id)
	e, err := scanEntry(row)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query queue entry %d: %w", id, err)
	}
	return e, nil
}

// DueEntries returns up to limit PENDING entries scheduled at or before now.
func (s *Store) DueEntries(ctx context.Context, now time.Time, limit int) ([]*models.QueueEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+queueColumns+`
		FROM email_queue
		WHERE status = 'PENDING' AND scheduled_for <= $1
		ORDER BY scheduled_for, id
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Claim moves a PENDING entry to SENDING and stamps the attempt time. It
// reports false when the entry is no longer PENDING, so concurrent drains
// never both attempt the same entry.
func (s *Store) Claim(ctx context.Context, id int64, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE email_queue
		SET status = 'SENDING', last_attempt = $2
		WHERE id = $1 AND status = 'PENDING'
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("claim entry %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSent completes a claimed entry.
func (s *Store) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE email_queue
		SET status = 'SENT', sent_at = $2, error = ''
		WHERE id = $1 AND status = 'SENDING'
	`, id, sentAt)
	if err != nil {
		return fmt.Errorf("mark entry %d sent: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sending entry %d: %w", id, ErrNotFound)
	}
	return nil
}

// RecordFailure counts a failed attempt on a claimed entry. The entry goes
// back to PENDING, or to FAILED once maxAttempts is reached.
func (s *Store) RecordFailure(ctx context.Context, id int64, reason string, maxAttempts int) (models.QueueStatus, int, error) {
	var (
		status   string
		attempts int
	)
	err := s.pool.QueryRow(ctx, `
		UPDATE email_queue
		SET attempts = attempts + 1,
		    error = $2,
		    status = CASE WHEN attempts + 1 >= $3 THEN 'FAILED' ELSE 'PENDING' END
		WHERE id = $1 AND status = 'SENDING'
		RETURNING status, attempts
	`, id, reason, maxAttempts).Scan(&status, &attempts)
	if noRows(err) {
		return "", 0, fmt.Errorf("sending entry %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", 0, fmt.Errorf("record failure for entry %d: %w", id, err)
	}
	return models.QueueStatus(status), attempts, nil
}

// MarkFailed counts a failed attempt and makes a claimed entry terminal.
func (s *Store) MarkFailed(ctx context.Context, id int64, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE email_queue
		SET attempts = attempts + 1, error = $2, status = 'FAILED'
		WHERE id = $1 AND status = 'SENDING'
	`, id, reason)
	if err != nil {
		return fmt.Errorf("mark entry %d failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sending entry %d: %w", id, ErrNotFound)
	}
	return nil
}

// AppendLog writes an immutable delivery log record.
func (s *Store) AppendLog(ctx context.Context, l *models.LogEntry) error {
	createdAt := l.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO email_log
			(queue_id, project_id, trigger_id, to_email, cc_emails, subject, body,
			 mail_server_id, from_email, success, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`, l.QueueID, l.ProjectID, l.TriggerID, l.ToEmail, l.CCEmails, l.Subject, l.Body,
		l.MailServerID, l.FromEmail, l.Success, l.Error, createdAt,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("insert delivery log: %w", err)
	}
	return nil
}

// LogsForQueueEntry returns the delivery log of one queue entry, oldest first.
func (s *Store) LogsForQueueEntry(ctx context.Context, queueID int64) ([]models.LogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, queue_id, project_id, trigger_id, to_email, COALESCE(cc_emails, ''),
		       subject, body, mail_server_id, COALESCE(from_email, ''), success,
		       COALESCE(error, ''), created_at
		FROM email_log
		WHERE queue_id = $1
		ORDER BY id
	`, queueID)
	if err != nil {
		return nil, fmt.Errorf("query delivery log: %w", err)
	}
	defer rows.Close()

	var logs []models.LogEntry
	for rows.Next() {
		var l models.LogEntry
		if err := rows.Scan(
			&l.ID, &l.QueueID, &l.ProjectID, &l.TriggerID, &l.ToEmail, &l.CCEmails,
			&l.Subject, &l.Body, &l.MailServerID, &l.FromEmail, &l.Success,
			&l.Error, &l.CreatedAt,
		); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// scanEntry scans one queue row.
func scanEntry(row pgx.Row) (*models.QueueEntry, error) {
	var (
		e      models.QueueEntry
		status string
	)
	err := row.Scan(
		&e.ID, &e.ProjectID, &e.TriggerID, &e.ToEmail, &e.CCEmails,
		&e.Subject, &e.Body, &e.ScheduledFor, &status, &e.Attempts, &e.Error,
		&e.MailServerID, &e.SentAt, &e.LastAttempt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = models.QueueStatus(status)
	return &e, nil
}
