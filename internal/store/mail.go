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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/agencyops/mailflow/internal/models"
	"github.com/agencyops/mailflow/internal/trigger"
)

const triggerColumns = `id, name, active, trigger_type, project_type, template_id,
	delay_days, COALESCE(delay_type, ''), conditions, recipient_config, created_at`

// errUndecodableTrigger marks a trigger row whose stored JSON is invalid.
var errUndecodableTrigger = errors.New("undecodable trigger")

// ActiveTriggers returns every active trigger. Rows whose stored JSON cannot
// be decoded are logged and skipped.
func (s *Store) ActiveTriggers(ctx context.Context) ([]*models.EmailTrigger, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+triggerColumns+`
		FROM email_triggers
		WHERE active
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	defer rows.Close()

	var triggers []*models.EmailTrigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if errors.Is(err, errUndecodableTrigger) {
			slog.Warn("skipping undecodable trigger", "trigger_id", t.ID, "error", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

// SaveTrigger validates and inserts (ID == 0) or updates a trigger. The
// referenced template must exist.
func (s *Store) SaveTrigger(ctx context.Context, t *models.EmailTrigger) error {
	if err := trigger.Validate(t); err != nil {
		return err
	}

	tpl, err := s.Template(ctx, t.TemplateID)
	if err != nil {
		return err
	}
	if tpl == nil {
		return fmt.Errorf("template %d: %w", t.TemplateID, ErrNotFound)
	}

	recipients, err := json.Marshal(t.Recipients)
	if err != nil {
		return fmt.Errorf("encode recipient config: %w", err)
	}
	var conditions []byte
	if len(t.Conditions) > 0 {
		conditions = t.Conditions
	}
	var projectType *string
	if t.ProjectType != nil {
		pt := string(*t.ProjectType)
		projectType = &pt
	}

	if t.ID == 0 {
		err = s.pool.QueryRow(ctx, `
			INSERT INTO email_triggers
				(name, active, trigger_type, project_type, template_id,
				 delay_days, delay_type, conditions, recipient_config)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id, created_at
		`, t.Name, t.Active, string(t.TriggerType), projectType, t.TemplateID,
			t.DelayDays, string(t.DelayType), conditions, recipients,
		).Scan(&t.ID, &t.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert trigger: %w", err)
		}
		return nil
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE email_triggers
		SET name = $2, active = $3, trigger_type = $4, project_type = $5,
		    template_id = $6, delay_days = $7, delay_type = $8,
		    conditions = $9, recipient_config = $10
		WHERE id = $1
	`, t.ID, t.Name, t.Active, string(t.TriggerType), projectType, t.TemplateID,
		t.DelayDays, string(t.DelayType), conditions, recipients)
	if err != nil {
		return fmt.Errorf("update trigger %d: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trigger %d: %w", t.ID, ErrNotFound)
	}
	return nil
}

// Template loads a template, or nil when it does not exist.
func (s *Store) Template(ctx context.Context, id int64) (*models.EmailTemplate, error) {
	var t models.EmailTemplate
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(category, ''), subject, body, created_at
		FROM email_templates
		WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.Category, &t.Subject, &t.Body, &t.CreatedAt)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query template %d: %w", id, err)
	}
	return &t, nil
}

// SaveTemplate inserts a template and sets its ID.
func (s *Store) SaveTemplate(ctx context.Context, t *models.EmailTemplate) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO email_templates (name, category, subject, body)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, t.Name, t.Category, t.Subject, t.Body).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// OldestSignatureForUnit returns the oldest signature owned by unitID.
func (s *Store) OldestSignatureForUnit(ctx context.Context, unitID int64) (*models.EmailSignature, error) {
	return s.signature(ctx, `WHERE agency_id = $1`, unitID)
}

// OldestGlobalSignature returns the oldest signature without a unit.
func (s *Store) OldestGlobalSignature(ctx context.Context) (*models.EmailSignature, error) {
	return s.signature(ctx, `WHERE agency_id IS NULL`)
}

func (s *Store) signature(ctx context.Context, where string, args ...any) (*models.EmailSignature, error) {
	var sig models.EmailSignature
	err := s.pool.QueryRow(ctx, `
		SELECT id, agency_id, body, created_at
		FROM email_signatures
		`+where+`
		ORDER BY created_at, id
		LIMIT 1
	`, args...).Scan(&sig.ID, &sig.UnitID, &sig.Body, &sig.CreatedAt)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query signature: %w", err)
	}
	return &sig, nil
}

const identityColumns = `id, agency_id, host, port, COALESCE(username, ''), COALESCE(password, ''),
	from_email, COALESCE(from_name, ''), use_tls, COALESCE(auth_method, 'PASSWORD'),
	COALESCE(oauth_token_url, ''), COALESCE(oauth_client_id, ''),
	COALESCE(oauth_client_secret, ''), COALESCE(oauth_scopes, '{}'), created_at`

// OldestIdentityForUnit returns the oldest mail identity owned by unitID.
func (s *Store) OldestIdentityForUnit(ctx context.Context, unitID int64) (*models.MailIdentity, error) {
	return s.identity(ctx, `WHERE agency_id = $1 ORDER BY created_at, id LIMIT 1`, unitID)
}

// OldestGlobalIdentity returns the oldest mail identity without a unit.
func (s *Store) OldestGlobalIdentity(ctx context.Context) (*models.MailIdentity, error) {
	return s.identity(ctx, `WHERE agency_id IS NULL ORDER BY created_at, id LIMIT 1`)
}

// IdentityByID loads one mail identity, or nil when it does not exist.
func (s *Store) IdentityByID(ctx context.Context, id int64) (*models.MailIdentity, error) {
	return s.identity(ctx, `WHERE id = $1`, id)
}

// SaveIdentity inserts a mail identity and sets its ID.
func (s *Store) SaveIdentity(ctx context.Context, m *models.MailIdentity) error {
	authMethod := m.AuthMethod
	if authMethod == "" {
		authMethod = models.AuthPassword
	}
	scopes := m.OAuthScopes
	if scopes == nil {
		scopes = []string{}
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO mail_servers
			(agency_id, host, port, username, password, from_email, from_name, use_tls,
			 auth_method, oauth_token_url, oauth_client_id, oauth_client_secret, oauth_scopes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at
	`, m.UnitID, m.Host, m.Port, m.Username, m.Password, m.FromEmail, m.FromName, m.UseTLS,
		string(authMethod), m.OAuthTokenURL, m.OAuthClientID, m.OAuthClientSecret, scopes,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert mail identity: %w", err)
	}
	m.AuthMethod = authMethod
	return nil
}

func (s *Store) identity(ctx context.Context, where string, args ...any) (*models.MailIdentity, error) {
	var (
		m          models.MailIdentity
		authMethod string
	)
	err := s.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM mail_servers `+where, args...).Scan(
		&m.ID, &m.UnitID, &m.Host, &m.Port, &m.Username, &m.Password,
		&m.FromEmail, &m.FromName, &m.UseTLS, &authMethod,
		&m.OAuthTokenURL, &m.OAuthClientID, &m.OAuthClientSecret, &m.OAuthScopes, &m.CreatedAt,
	)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query mail identity: %w", err)
	}
	m.AuthMethod = models.AuthMethod(authMethod)
	return &m, nil
}

// scanTrigger scans one trigger row. On a JSON decode failure it returns the
// partially scanned trigger with an errUndecodableTrigger error.
func scanTrigger(row pgx.Row) (*models.EmailTrigger, error) {
	var (
		t           models.EmailTrigger
		triggerType string
		projectType *string
		delayType   string
		conditions  []byte
		recipients  []byte
	)
	err := row.Scan(
		&t.ID, &t.Name, &t.Active, &triggerType, &projectType, &t.TemplateID,
		&t.DelayDays, &delayType, &conditions, &recipients, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.TriggerType = models.TriggerType(triggerType)
	t.DelayType = models.DelayType(delayType)
	if projectType != nil {
		pt := models.ProjectType(*projectType)
		t.ProjectType = &pt
	}
	if len(conditions) > 0 {
		t.Conditions = json.RawMessage(conditions)
	}
	if err := json.Unmarshal(recipients, &t.Recipients); err != nil {
		return &t, fmt.Errorf("%w %d: recipient config: %v", errUndecodableTrigger, t.ID, err)
	}
	return &t, nil
}
