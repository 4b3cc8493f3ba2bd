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

package sender

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agencyops/mailflow/internal/identity"
	"github.com/agencyops/mailflow/internal/models"
)

// DirectRequest is a one-off message with final content and addressing.
type DirectRequest struct {
	ProjectID int64    `json:"project_id"`
	To        string   `json:"to"`
	CC        []string `json:"cc"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
}

// SendDirect delivers req synchronously through the project's identity.
// The outcome is logged like a queued attempt, but nothing is queued and
// nothing is retried; a failure is returned to the caller.
func (w *Worker) SendDirect(ctx context.Context, req DirectRequest) error {
	le := &models.LogEntry{
		ProjectID: req.ProjectID,
		ToEmail:   req.To,
		CCEmails:  strings.Join(req.CC, ","),
		Subject:   req.Subject,
		Body:      req.Body,
	}

	ident, err := w.identities.ResolveForProject(ctx, req.ProjectID)
	if err != nil {
		if identity.IsConfigurationError(err) {
			slog.Error("mail identity misconfigured", "project_id", req.ProjectID, "error", err)
			if w.alerter != nil {
				w.alerter.Alert(ctx, err, map[string]string{"project_id": fmt.Sprint(req.ProjectID)})
			}
		}
		w.settleDirect(ctx, le, err)
		return fmt.Errorf("resolve identity: %w", err)
	}

	identID := ident.ID
	le.MailServerID = &identID
	le.FromEmail = ident.FromEmail

	msg := Outgoing{To: req.To, CC: req.CC, Subject: req.Subject, Body: req.Body}
	if err := w.transport.Send(ctx, ident, msg); err != nil {
		w.metrics.failed(true)
		w.settleDirect(ctx, le, err)
		return fmt.Errorf("send: %w", err)
	}

	w.metrics.sent.Inc()
	w.settleDirect(ctx, le, nil)
	slog.Info("direct message sent", "project_id", req.ProjectID, "mail_server_id", ident.ID)
	return nil
}

func (w *Worker) settleDirect(ctx context.Context, le *models.LogEntry, cause error) {
	le.Success = cause == nil
	if cause != nil {
		le.Error = cause.Error()
	}
	le.CreatedAt = w.clock.Now()
	w.appendLog(ctx, le)
}
