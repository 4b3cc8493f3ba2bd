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

// Package notice announces queue entries that wait for human confirmation
// by pushing JSON notices onto a Redis list read by the confirmation UI.
package notice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/agencyops/mailflow/internal/models"
)

// DefaultQueue is the Redis list notices are pushed to.
const DefaultQueue = "mailflow:confirmations"

// Notice is one "confirmation needed" message.
type Notice struct {
	ID        string    `json:"id"`
	QueueID   int64     `json:"queue_id"`
	ProjectID int64     `json:"project_id"`
	TriggerID *int64    `json:"trigger_id,omitempty"`
	ToEmail   string    `json:"to_email"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"created_at"`
}

// Publisher pushes notices to a Redis list.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a publisher targeting queueName (DefaultQueue if empty).
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	if queueName == "" {
		queueName = DefaultQueue
	}
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// NotifyConfirmation publishes a notice for entry. Consumers pop from the
// other end of the list (BRPOP), so notices are read in creation order.
func (p *Publisher) NotifyConfirmation(ctx context.Context, entry *models.QueueEntry) error {
	n := Notice{
		ID:        uuid.New().String(),
		QueueID:   entry.ID,
		ProjectID: entry.ProjectID,
		TriggerID: entry.TriggerID,
		ToEmail:   entry.ToEmail,
		Subject:   entry.Subject,
		CreatedAt: entry.CreatedAt,
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, payload).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("published confirmation notice",
		"notice_id", n.ID,
		"queue_id", entry.ID,
		"project_id", entry.ProjectID,
		"queue", p.queueName,
	)
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
