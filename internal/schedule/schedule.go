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

// Package schedule runs the queue drain on a cron expression.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agencyops/mailflow/internal/sender"
)

// Drainer is implemented by sender.Worker.
type Drainer interface {
	Drain(ctx context.Context) (*sender.DrainResult, error)
}

// Scheduler triggers one drain per cron tick. A tick that arrives while the
// previous drain still runs is skipped.
type Scheduler struct {
	cron    *cron.Cron
	drainer Drainer
	timeout time.Duration
}

// New parses expr (standard five-field cron or a descriptor such as
// "@every 1m") and registers the drain job. timeout bounds each drain; zero
// means no bound.
func New(expr string, drainer Drainer, timeout time.Duration) (*Scheduler, error) {
	logger := slogLogger{}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		drainer: drainer,
		timeout: timeout,
	}

	if _, err := s.cron.AddFunc(expr, s.tick); err != nil {
		return nil, fmt.Errorf("parse drain schedule %q: %w", expr, err)
	}
	return s, nil
}

// Start begins running the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("drain schedule started", "jobs", len(s.cron.Entries()))
}

// Stop halts the schedule and waits for a running drain to finish or ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		slog.Warn("drain still running at shutdown")
	}
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result, err := s.drainer.Drain(ctx)
	switch {
	case errors.Is(err, sender.ErrDrainInProgress):
		slog.Info("scheduled drain skipped, drain already running")
	case err != nil:
		slog.Error("scheduled drain failed", "error", err)
	case result.Success+result.Failed > 0:
		slog.Info("scheduled drain finished", "success", result.Success, "failed", result.Failed)
	}
}

// slogLogger adapts cron's logger to slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
