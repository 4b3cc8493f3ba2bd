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

// Package trigger decides which notification rules fire for a project
// update and turns each firing into a delivery queue entry.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/agencyops/mailflow/internal/clock"
	"github.com/agencyops/mailflow/internal/models"
	"github.com/agencyops/mailflow/internal/recipient"
	"github.com/agencyops/mailflow/internal/render"
)

// ErrProjectNotFound is returned when the updated project does not exist.
var ErrProjectNotFound = errors.New("project not found")

// Repository is the data access the engine needs. Lookups return
// (nil, nil) when nothing matches.
type Repository interface {
	LoadProject(ctx context.Context, id int64) (*models.Project, error)
	ActiveTriggers(ctx context.Context) ([]*models.EmailTrigger, error)
	Template(ctx context.Context, id int64) (*models.EmailTemplate, error)
	Enqueue(ctx context.Context, entry *models.QueueEntry) (int64, error)
}

// Notifier announces entries that wait for human confirmation.
type Notifier interface {
	NotifyConfirmation(ctx context.Context, entry *models.QueueEntry) error
}

// Engine evaluates triggers against project updates and queues firings.
type Engine struct {
	repo     Repository
	composer *render.Composer
	clock    clock.Clock
	notifier Notifier

	confirmations prometheus.Counter
	dropped       prometheus.Counter
}

// EngineConfig holds dependencies for the engine.
type EngineConfig struct {
	Repo     Repository
	Composer *render.Composer
	Clock    clock.Clock
	Notifier Notifier // optional

	// Registerer receives the engine's metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
}

// NewEngine creates a trigger engine.
func NewEngine(cfg EngineConfig) *Engine {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	factory := promauto.With(cfg.Registerer)
	return &Engine{
		repo:     cfg.Repo,
		composer: cfg.Composer,
		clock:    clk,
		notifier: cfg.Notifier,
		confirmations: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailflow_confirmations_total",
			Help: "Queue entries created in PENDING_CONFIRMATION.",
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailflow_dropped_firings_total",
			Help: "Deferred firings dropped because the recipient did not resolve.",
		}),
	}
}

// Applicable reports whether t is considered at all for a project of type pt.
func Applicable(t *models.EmailTrigger, pt models.ProjectType) bool {
	if !t.Active {
		return false
	}
	return t.ProjectType == nil || *t.ProjectType == pt
}

// Fires decides whether an applicable trigger fires for an update. updated
// maps each changed field to its new value; old holds the prior values.
// Only CONDITION_MET triggers fire here, and only on fields in updated.
func Fires(t *models.EmailTrigger, updated, old map[string]any) bool {
	if t.TriggerType != models.TriggerConditionMet {
		return false
	}

	cond, err := DecodeCondition(t.Conditions)
	if err != nil {
		slog.Debug("trigger condition not evaluable", "trigger_id", t.ID, "error", err)
		return false
	}

	newValue, changed := updated[cond.Field()]
	if !changed {
		return false
	}
	return cond.Matches(newValue, old[cond.Field()])
}

// ProcessTriggers evaluates every applicable trigger against one project
// update and queues an entry per firing. It returns the ids of entries that
// wait for human confirmation. A failure while queuing one trigger is
// logged and does not affect the others.
func (e *Engine) ProcessTriggers(ctx context.Context, projectID int64, updated, old map[string]any) ([]int64, error) {
	project, err := e.repo.LoadProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project %d: %w", projectID, err)
	}
	if project == nil {
		return nil, fmt.Errorf("%w: %d", ErrProjectNotFound, projectID)
	}

	triggers, err := e.repo.ActiveTriggers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}

	confirmationIDs := []int64{}
	for _, t := range triggers {
		if !Applicable(t, project.Type) || !Fires(t, updated, old) {
			continue
		}

		entry, err := e.queue(ctx, t, project)
		if err != nil {
			slog.Error("queue trigger firing failed",
				"trigger_id", t.ID,
				"project_id", project.ID,
				"error", err,
			)
			continue
		}
		if entry == nil || entry.Status != models.StatusPendingConfirmation {
			continue
		}

		confirmationIDs = append(confirmationIDs, entry.ID)
		e.confirmations.Inc()
		e.notify(ctx, entry)
	}

	return confirmationIDs, nil
}

// queue renders and persists one firing. It returns nil without error when
// a deferred firing is dropped for lack of a recipient.
func (e *Engine) queue(ctx context.Context, t *models.EmailTrigger, p *models.Project) (*models.QueueEntry, error) {
	tpl, err := e.repo.Template(ctx, t.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("load template %d: %w", t.TemplateID, err)
	}
	if tpl == nil {
		return nil, fmt.Errorf("template %d not found", t.TemplateID)
	}

	msg, err := e.composer.Compose(ctx, tpl, p)
	if err != nil {
		return nil, fmt.Errorf("compose message: %w", err)
	}

	rcpt := recipient.Resolve(t.Recipients, p)

	now := e.clock.Now()
	entry := &models.QueueEntry{
		ProjectID:    p.ID,
		TriggerID:    &t.ID,
		ToEmail:      rcpt.To,
		CCEmails:     rcpt.CCJoined(),
		Subject:      msg.Subject,
		Body:         msg.Body,
		ScheduledFor: now,
		Status:       models.StatusPendingConfirmation,
		CreatedAt:    now,
	}

	if !t.Immediate() {
		if !rcpt.Resolved() {
			e.dropped.Inc()
			slog.Warn("dropping deferred firing, recipient unresolved",
				"trigger_id", t.ID,
				"project_id", p.ID,
				"role", t.Recipients.To,
			)
			return nil, nil
		}
		entry.ScheduledFor = now.AddDate(0, 0, *t.DelayDays)
		entry.Status = models.StatusPending
	}

	id, err := e.repo.Enqueue(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	entry.ID = id

	slog.Info("trigger fired",
		"trigger_id", t.ID,
		"project_id", p.ID,
		"queue_id", id,
		"status", entry.Status,
		"scheduled_for", entry.ScheduledFor.Format(time.RFC3339),
	)
	return entry, nil
}

func (e *Engine) notify(ctx context.Context, entry *models.QueueEntry) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.NotifyConfirmation(ctx, entry); err != nil {
		slog.Warn("confirmation notice failed", "queue_id", entry.ID, "error", err)
	}
}
