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

package models

import (
	"encoding/json"
	"time"
)

// TriggerType selects how a trigger decides to fire.
type TriggerType string

const (
	TriggerConditionMet TriggerType = "CONDITION_MET"
	TriggerDateReached  TriggerType = "DATE_REACHED"
	TriggerManual       TriggerType = "MANUAL"
)

// DelayType records the direction of a trigger's day delay. The queue only
// ever schedules forward; the value is kept for the editing surface.
type DelayType string

const (
	DelayBefore DelayType = "BEFORE"
	DelayAfter  DelayType = "AFTER"
	DelayExact  DelayType = "EXACT"
)

// RoleTag names a person related to a project.
type RoleTag string

const (
	RoleClient RoleTag = "CLIENT"
	RoleAgent  RoleTag = "AGENT"
	RoleFilmer RoleTag = "FILMER"
	RoleCutter RoleTag = "CUTTER"
)

// RecipientSpec is the decoded recipientConfig document of a trigger.
type RecipientSpec struct {
	To RoleTag   `json:"to" validate:"required,oneof=CLIENT AGENT FILMER CUTTER"`
	CC []RoleTag `json:"cc" validate:"dive,oneof=CLIENT AGENT FILMER CUTTER"`
}

// EmailTrigger is a stored notification rule.
type EmailTrigger struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Active      bool         `json:"active"`
	TriggerType TriggerType  `json:"trigger_type"`
	ProjectType *ProjectType `json:"project_type,omitempty"` // nil = all types
	TemplateID  int64        `json:"template_id"`
	DelayDays   *int         `json:"delay_days,omitempty"`
	DelayType   DelayType    `json:"delay_type,omitempty"`

	// Conditions is the raw conditions document; its shape depends on
	// TriggerType. See trigger.DecodeCondition.
	Conditions json.RawMessage `json:"conditions,omitempty"`
	Recipients RecipientSpec   `json:"recipient_config"`

	CreatedAt time.Time `json:"created_at"`
}

// Immediate reports whether the trigger sends without a day delay. Immediate
// firings require human confirmation before they leave the queue.
func (t *EmailTrigger) Immediate() bool {
	return t.DelayDays == nil || *t.DelayDays == 0
}

// EmailTemplate is reusable subject/body text with {{group.field}} placeholders.
type EmailTemplate struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category,omitempty"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// EmailSignature is appended to rendered bodies. UnitID nil marks the
// global default signature.
type EmailSignature struct {
	ID        int64     `json:"id"`
	UnitID    *int64    `json:"unit_id,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthMethod selects how a mail identity authenticates.
type AuthMethod string

const (
	AuthPassword AuthMethod = "PASSWORD"
	AuthXOAuth2  AuthMethod = "XOAUTH2"
)

// MailIdentity is an outbound transport configuration ("mail server").
// UnitID nil marks the global fallback identity.
type MailIdentity struct {
	ID        int64  `json:"id"`
	UnitID    *int64 `json:"unit_id,omitempty"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"-"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name,omitempty"`
	UseTLS    bool   `json:"use_tls"`

	AuthMethod        AuthMethod `json:"auth_method,omitempty"`
	OAuthTokenURL     string     `json:"oauth_token_url,omitempty"`
	OAuthClientID     string     `json:"oauth_client_id,omitempty"`
	OAuthClientSecret string     `json:"-"`
	OAuthScopes       []string   `json:"oauth_scopes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// QueueStatus is the delivery state of a queue entry.
//
//	PENDING_CONFIRMATION -> PENDING -> SENDING -> SENT
//	                                   SENDING -> PENDING (retry)
//	                                   SENDING -> FAILED
type QueueStatus string

const (
	StatusPendingConfirmation QueueStatus = "PENDING_CONFIRMATION"
	StatusPending             QueueStatus = "PENDING"
	StatusSending             QueueStatus = "SENDING"
	StatusSent                QueueStatus = "SENT"
	StatusFailed              QueueStatus = "FAILED"
)

// QueueEntry is one addressed, rendered notification awaiting or having
// undergone delivery. Entries are never deleted.
type QueueEntry struct {
	ID           int64       `json:"id"`
	ProjectID    int64       `json:"project_id"`
	TriggerID    *int64      `json:"trigger_id,omitempty"` // nil for manual sends
	ToEmail      string      `json:"to_email"`
	CCEmails     string      `json:"cc_emails,omitempty"` // comma-joined
	Subject      string      `json:"subject"`
	Body         string      `json:"body"`
	ScheduledFor time.Time   `json:"scheduled_for"`
	Status       QueueStatus `json:"status"`
	Attempts     int         `json:"attempts"`
	Error        string      `json:"error,omitempty"`
	MailServerID *int64      `json:"mail_server_id,omitempty"`
	SentAt       *time.Time  `json:"sent_at,omitempty"`
	LastAttempt  *time.Time  `json:"last_attempt,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// LogEntry is the immutable record of one delivery attempt.
type LogEntry struct {
	ID           int64     `json:"id"`
	QueueID      *int64    `json:"queue_id,omitempty"` // nil for direct sends
	ProjectID    int64     `json:"project_id"`
	TriggerID    *int64    `json:"trigger_id,omitempty"`
	ToEmail      string    `json:"to_email"`
	CCEmails     string    `json:"cc_emails,omitempty"`
	Subject      string    `json:"subject"`
	Body         string    `json:"body"`
	MailServerID *int64    `json:"mail_server_id,omitempty"`
	FromEmail    string    `json:"from_email,omitempty"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
