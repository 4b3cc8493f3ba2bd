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

// Package sender drains the delivery queue through each entry's mail
// identity and sends one-off messages outside the queue.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/agencyops/mailflow/internal/clock"
	"github.com/agencyops/mailflow/internal/identity"
	"github.com/agencyops/mailflow/internal/models"
	"github.com/agencyops/mailflow/internal/recipient"
)

const (
	// BatchSize is the most entries one drain selects.
	BatchSize = 50

	// MaxAttempts is the attempt ceiling after which an entry is FAILED.
	MaxAttempts = 3

	// settleTimeout bounds the state and log writes after an attempt.
	settleTimeout = 15 * time.Second
)

// ErrDrainInProgress is returned when a drain is already running in this
// process.
var ErrDrainInProgress = errors.New("queue drain already in progress")

// Queue is the delivery queue as seen by the worker.
type Queue interface {
	// DueEntries returns up to limit PENDING entries scheduled at or before now.
	DueEntries(ctx context.Context, now time.Time, limit int) ([]*models.QueueEntry, error)
	// Claim moves a PENDING entry to SENDING. It reports false when the
	// entry was no longer PENDING.
	Claim(ctx context.Context, id int64, now time.Time) (bool, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time) error
	// RecordFailure counts a failed attempt and returns the resulting
	// status and attempt count.
	RecordFailure(ctx context.Context, id int64, reason string, maxAttempts int) (models.QueueStatus, int, error)
	// MarkFailed counts a failed attempt and makes the entry terminal.
	MarkFailed(ctx context.Context, id int64, reason string) error
	AppendLog(ctx context.Context, entry *models.LogEntry) error
}

// Identities resolves the mail identity for a send.
type Identities interface {
	ResolveForProject(ctx context.Context, projectID int64) (*models.MailIdentity, error)
	ByID(ctx context.Context, id int64) (*models.MailIdentity, error)
}

// Alerter reports problems that need an operator.
type Alerter interface {
	Alert(ctx context.Context, err error, tags map[string]string)
}

// DrainResult summarises one drain.
type DrainResult struct {
	Success int      `json:"success"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

// Worker drains due queue entries sequentially.
type Worker struct {
	queue      Queue
	identities Identities
	transport  Transport
	alerter    Alerter
	clock      clock.Clock
	metrics    *Metrics

	batchSize   int
	maxAttempts int

	running sync.Mutex
}

// WorkerConfig holds dependencies for the worker.
type WorkerConfig struct {
	Queue      Queue
	Identities Identities
	Transport  Transport
	Alerter    Alerter // optional
	Clock      clock.Clock

	// Registerer receives the delivery metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer

	BatchSize   int // default BatchSize
	MaxAttempts int // default MaxAttempts
}

// NewWorker creates a queue worker.
func NewWorker(cfg WorkerConfig) *Worker {
	w := &Worker{
		queue:       cfg.Queue,
		identities:  cfg.Identities,
		transport:   cfg.Transport,
		alerter:     cfg.Alerter,
		clock:       cfg.Clock,
		metrics:     NewMetrics(cfg.Registerer),
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
	}
	if w.clock == nil {
		w.clock = clock.Real()
	}
	if w.batchSize <= 0 {
		w.batchSize = BatchSize
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = MaxAttempts
	}
	return w
}

// Drain processes one batch of due entries. Per-entry failures are
// collected in the result and never abort the batch.
func (w *Worker) Drain(ctx context.Context) (*DrainResult, error) {
	if !w.running.TryLock() {
		return nil, ErrDrainInProgress
	}
	defer w.running.Unlock()

	timer := prometheus.NewTimer(w.metrics.drainDuration)
	defer timer.ObserveDuration()

	runID := uuid.NewString()
	entries, err := w.queue.DueEntries(ctx, w.clock.Now(), w.batchSize)
	if err != nil {
		return nil, fmt.Errorf("select due entries: %w", err)
	}

	slog.Info("queue drain started", "run_id", runID, "due", len(entries))

	result := &DrainResult{Errors: []string{}}
	for _, entry := range entries {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("drain cancelled: %v", ctx.Err()))
			break
		}
		w.process(ctx, runID, entry, result)
	}

	slog.Info("queue drain finished",
		"run_id", runID,
		"success", result.Success,
		"failed", result.Failed,
		"errors", len(result.Errors),
	)
	return result, nil
}

// process claims, sends and settles one entry.
func (w *Worker) process(ctx context.Context, runID string, entry *models.QueueEntry, result *DrainResult) {
	claimed, err := w.queue.Claim(ctx, entry.ID, w.clock.Now())
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("entry %d: claim: %v", entry.ID, err))
		return
	}
	if !claimed {
		slog.Debug("entry claimed elsewhere, skipping", "run_id", runID, "queue_id", entry.ID)
		return
	}

	ident, err := w.identityFor(ctx, entry)
	if err != nil {
		w.fail(ctx, runID, entry, nil, err, result)
		return
	}

	sendErr := w.transport.Send(ctx, ident, outgoing(entry))
	if sendErr != nil {
		w.fail(ctx, runID, entry, ident, sendErr, result)
		return
	}

	result.Success++
	w.metrics.sent.Inc()

	sctx, cancel := settleContext(ctx)
	defer cancel()

	if err := w.queue.MarkSent(sctx, entry.ID, w.clock.Now()); err != nil {
		// The message is out; leaving the entry in SENDING keeps it from
		// being selected again.
		slog.Error("mark sent failed", "run_id", runID, "queue_id", entry.ID, "error", err)
		result.Errors = append(result.Errors, fmt.Sprintf("entry %d: mark sent: %v", entry.ID, err))
	}
	w.appendLog(sctx, logFor(entry, ident, nil, w.clock.Now()))

	slog.Info("queue entry sent",
		"run_id", runID,
		"queue_id", entry.ID,
		"project_id", entry.ProjectID,
		"mail_server_id", ident.ID,
	)
}

// fail settles a failed attempt. Configuration errors are terminal at once.
func (w *Worker) fail(ctx context.Context, runID string, entry *models.QueueEntry, ident *models.MailIdentity, cause error, result *DrainResult) {
	result.Failed++
	result.Errors = append(result.Errors, fmt.Sprintf("entry %d: %v", entry.ID, cause))

	status := models.StatusFailed
	attempts := entry.Attempts + 1

	// The attempt may have failed because ctx ended; the entry must still
	// leave SENDING.
	sctx, cancel := settleContext(ctx)
	defer cancel()

	if identity.IsConfigurationError(cause) {
		w.alert(sctx, cause, entry)
		if err := w.queue.MarkFailed(sctx, entry.ID, cause.Error()); err != nil {
			slog.Error("mark failed failed", "run_id", runID, "queue_id", entry.ID, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("entry %d: mark failed: %v", entry.ID, err))
		}
	} else {
		var err error
		status, attempts, err = w.queue.RecordFailure(sctx, entry.ID, cause.Error(), w.maxAttempts)
		if err != nil {
			slog.Error("record failure failed", "run_id", runID, "queue_id", entry.ID, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("entry %d: record failure: %v", entry.ID, err))
		}
	}

	w.metrics.failed(status == models.StatusFailed)
	w.appendLog(sctx, logFor(entry, ident, cause, w.clock.Now()))

	slog.Warn("queue entry delivery failed",
		"run_id", runID,
		"queue_id", entry.ID,
		"project_id", entry.ProjectID,
		"attempts", attempts,
		"status", status,
		"error", cause,
	)
}

// identityFor uses the pinned identity when it still exists, else resolves
// for the entry's project.
func (w *Worker) identityFor(ctx context.Context, entry *models.QueueEntry) (*models.MailIdentity, error) {
	if entry.MailServerID != nil {
		ident, err := w.identities.ByID(ctx, *entry.MailServerID)
		if err != nil {
			return nil, err
		}
		if ident != nil {
			return ident, nil
		}
		slog.Warn("pinned mail identity no longer exists, resolving for project",
			"queue_id", entry.ID,
			"mail_server_id", *entry.MailServerID,
		)
	}
	return w.identities.ResolveForProject(ctx, entry.ProjectID)
}

func (w *Worker) alert(ctx context.Context, err error, entry *models.QueueEntry) {
	slog.Error("mail identity misconfigured",
		"queue_id", entry.ID,
		"project_id", entry.ProjectID,
		"error", err,
	)
	if w.alerter != nil {
		w.alerter.Alert(ctx, err, map[string]string{
			"queue_id":   fmt.Sprint(entry.ID),
			"project_id": fmt.Sprint(entry.ProjectID),
		})
	}
}

func (w *Worker) appendLog(ctx context.Context, entry *models.LogEntry) {
	ctx, cancel := settleContext(ctx)
	defer cancel()
	if err := w.queue.AppendLog(ctx, entry); err != nil {
		slog.Error("append delivery log failed", "project_id", entry.ProjectID, "error", err)
	}
}

// settleContext detaches ctx from its cancellation so bookkeeping after a
// send completes even when the caller has gone away.
func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

func outgoing(entry *models.QueueEntry) Outgoing {
	return Outgoing{
		To:      entry.ToEmail,
		CC:      recipient.SplitCC(entry.CCEmails),
		Subject: entry.Subject,
		Body:    entry.Body,
	}
}

func logFor(entry *models.QueueEntry, ident *models.MailIdentity, cause error, now time.Time) *models.LogEntry {
	id := entry.ID
	le := &models.LogEntry{
		QueueID:   &id,
		ProjectID: entry.ProjectID,
		TriggerID: entry.TriggerID,
		ToEmail:   entry.ToEmail,
		CCEmails:  entry.CCEmails,
		Subject:   entry.Subject,
		Body:      entry.Body,
		Success:   cause == nil,
		CreatedAt: now,
	}
	if ident != nil {
		identID := ident.ID
		le.MailServerID = &identID
		le.FromEmail = ident.FromEmail
	}
	if cause != nil {
		le.Error = cause.Error()
	}
	return le
}
