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

// Package alert reports operator-facing problems, such as a missing mail
// identity, to Sentry.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter forwards alerts to a Sentry hub. A Reporter without hub drops
// them; callers log alerts themselves.
type Reporter struct {
	hub *sentry.Hub
}

// NewReporter creates a reporter on hub. hub may be nil.
func NewReporter(hub *sentry.Hub) *Reporter {
	return &Reporter{hub: hub}
}

// Init configures the global Sentry client and returns a reporter on its
// hub plus a flush function for shutdown. An empty dsn disables Sentry.
func Init(dsn, environment string) (*Reporter, func(), error) {
	if dsn == "" {
		slog.Info("sentry disabled (no DSN configured)")
		return NewReporter(nil), func() {}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init sentry: %w", err)
	}

	slog.Info("sentry initialised", "environment", environment)
	flush := func() { sentry.Flush(2 * time.Second) }
	return NewReporter(sentry.CurrentHub()), flush, nil
}

// Alert captures err with tags at error level, on the request hub when
// ctx carries one.
func (r *Reporter) Alert(ctx context.Context, err error, tags map[string]string) {
	if r == nil || r.hub == nil || err == nil {
		return
	}

	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = r.hub.Clone()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTags(tags)
		scope.SetContext("mailflow", sentry.Context{"component": "delivery"})
		if id := hub.CaptureException(err); id == nil {
			slog.Debug("sentry dropped alert", "error", err)
		}
	})
}
