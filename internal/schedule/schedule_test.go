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

package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agencyops/mailflow/internal/sender"
)

type countingDrainer struct {
	calls atomic.Int32
	err   error
}

func (d *countingDrainer) Drain(ctx context.Context) (*sender.DrainResult, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	return &sender.DrainResult{Success: 1}, nil
}

// TestNew_InvalidSpec verifies a malformed cron expression is rejected.
func TestNew_InvalidSpec(t *testing.T) {
	if _, err := New("every so often", &countingDrainer{}, 0); err == nil {
		t.Fatal("expected parse error")
	}
}

// TestTick verifies a tick drains once and tolerates drain errors.
func TestTick(t *testing.T) {
	for _, drainErr := range []error{nil, sender.ErrDrainInProgress, errors.New("db down")} {
		d := &countingDrainer{err: drainErr}
		s, err := New("*/5 * * * *", d, time.Second)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		s.tick()
		if got := d.calls.Load(); got != 1 {
			t.Errorf("err=%v: calls = %d, want 1", drainErr, got)
		}
	}
}

// TestScheduler_Runs verifies the schedule fires the drain.
func TestScheduler_Runs(t *testing.T) {
	d := &countingDrainer{}
	s, err := New("@every 1s", d, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()

	deadline := time.Now().Add(3 * time.Second)
	for d.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	if d.calls.Load() == 0 {
		t.Fatal("drain never ran")
	}
}
