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

package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agencyops/mailflow/internal/models"
)

// ManualRequest describes an operator-queued message that no trigger produced.
type ManualRequest struct {
	ProjectID    int64     `json:"project_id" validate:"gt=0"`
	To           string    `json:"to" validate:"required,email"`
	CC           []string  `json:"cc" validate:"dive,email"`
	Subject      string    `json:"subject" validate:"required"`
	Body         string    `json:"body" validate:"required"`
	ScheduledFor time.Time `json:"scheduled_for"` // zero = now
	MailServerID *int64    `json:"mail_server_id,omitempty"`
}

// QueueManual stores a ready-to-send PENDING entry without a trigger. The
// content is used as given; no rendering happens.
func (e *Engine) QueueManual(ctx context.Context, req ManualRequest) (int64, error) {
	if err := validate.Struct(req); err != nil {
		return 0, fmt.Errorf("invalid manual request: %w", err)
	}

	now := e.clock.Now()
	scheduled := req.ScheduledFor
	if scheduled.IsZero() {
		scheduled = now
	}

	entry := &models.QueueEntry{
		ProjectID:    req.ProjectID,
		ToEmail:      req.To,
		CCEmails:     strings.Join(req.CC, ","),
		Subject:      req.Subject,
		Body:         req.Body,
		ScheduledFor: scheduled,
		Status:       models.StatusPending,
		MailServerID: req.MailServerID,
		CreatedAt:    now,
	}

	id, err := e.repo.Enqueue(ctx, entry)
	if err != nil {
		return 0, fmt.Errorf("enqueue manual entry: %w", err)
	}

	slog.Info("manual entry queued", "queue_id", id, "project_id", req.ProjectID)
	return id, nil
}
