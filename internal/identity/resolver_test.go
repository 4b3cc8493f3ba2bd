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

package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/agencyops/mailflow/internal/models"
)

type fakeRepo struct {
	identities   []*models.MailIdentity // ordered oldest first
	projectUnits map[int64]*int64
	err          error
	byIDCalls    int
}

func (f *fakeRepo) OldestIdentityForUnit(_ context.Context, unitID int64) (*models.MailIdentity, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, ident := range f.identities {
		if ident.UnitID != nil && *ident.UnitID == unitID {
			return ident, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) OldestGlobalIdentity(context.Context) (*models.MailIdentity, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, ident := range f.identities {
		if ident.UnitID == nil {
			return ident, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) IdentityByID(_ context.Context, id int64) (*models.MailIdentity, error) {
	f.byIDCalls++
	for _, ident := range f.identities {
		if ident.ID == id {
			return ident, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ProjectUnitID(_ context.Context, projectID int64) (*int64, error) {
	return f.projectUnits[projectID], nil
}

type mapCache map[string]int64

func (m mapCache) Lookup(_ context.Context, key string) (int64, bool, error) {
	id, ok := m[key]
	return id, ok, nil
}

func (m mapCache) Remember(_ context.Context, key string, id int64) error {
	m[key] = id
	return nil
}

func (m mapCache) Flush(context.Context) error {
	clear(m)
	return nil
}

func unit(id int64) *int64 { return &id }

// TestResolveForUnit verifies unit-first resolution with global fallback.
func TestResolveForUnit(t *testing.T) {
	repo := &fakeRepo{identities: []*models.MailIdentity{
		{ID: 1, UnitID: nil, FromEmail: "global@agency.example"},
		{ID: 2, UnitID: unit(7), FromEmail: "first@unit7.example"},
		{ID: 3, UnitID: unit(7), FromEmail: "second@unit7.example"},
		{ID: 4, UnitID: nil, FromEmail: "newer-global@agency.example"},
	}}
	r := NewResolver(repo, nil)

	tests := []struct {
		name   string
		unitID *int64
		wantID int64
	}{
		{"unit with identities picks oldest", unit(7), 2},
		{"unit without identity falls back", unit(9), 1},
		{"no unit uses global", nil, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ident, err := r.ResolveForUnit(context.Background(), tt.unitID)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ident.ID != tt.wantID {
				t.Errorf("identity = %d, want %d", ident.ID, tt.wantID)
			}
		})
	}
}

// TestResolveForUnit_ConfigurationError verifies the error when nothing is
// configured.
func TestResolveForUnit_ConfigurationError(t *testing.T) {
	r := NewResolver(&fakeRepo{}, nil)

	_, err := r.ResolveForUnit(context.Background(), unit(3))
	if !IsConfigurationError(err) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.UnitID == nil || *cfgErr.UnitID != 3 {
		t.Errorf("ConfigurationError.UnitID = %v, want 3", cfgErr.UnitID)
	}
}

// TestResolveForUnit_StoreError verifies store failures are not reported as
// configuration problems.
func TestResolveForUnit_StoreError(t *testing.T) {
	r := NewResolver(&fakeRepo{err: errors.New("connection refused")}, nil)

	_, err := r.ResolveForUnit(context.Background(), unit(1))
	if err == nil {
		t.Fatal("expected error")
	}
	if IsConfigurationError(err) {
		t.Error("store error must not be a ConfigurationError")
	}
}

// TestResolveForProject verifies the project's unit drives resolution.
func TestResolveForProject(t *testing.T) {
	repo := &fakeRepo{
		identities: []*models.MailIdentity{
			{ID: 1},
			{ID: 2, UnitID: unit(5)},
		},
		projectUnits: map[int64]*int64{100: unit(5)},
	}
	r := NewResolver(repo, nil)

	ident, err := r.ResolveForProject(context.Background(), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ident.ID != 2 {
		t.Errorf("identity = %d, want 2", ident.ID)
	}

	ident, err = r.ResolveForProject(context.Background(), 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ident.ID != 1 {
		t.Errorf("identity for unitless project = %d, want 1", ident.ID)
	}
}

// TestResolveForUnit_Cache verifies resolutions are cached and stale ids
// are re-resolved.
func TestResolveForUnit_Cache(t *testing.T) {
	repo := &fakeRepo{identities: []*models.MailIdentity{
		{ID: 1},
		{ID: 2, UnitID: unit(7)},
	}}
	cache := mapCache{}
	r := NewResolver(repo, cache)

	if _, err := r.ResolveForUnit(context.Background(), unit(7)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cache["unit:7"] != 2 {
		t.Fatalf("cache[unit:7] = %d, want 2", cache["unit:7"])
	}

	// Cached id pointing at a deleted identity is ignored.
	cache["unit:7"] = 99
	ident, err := r.ResolveForUnit(context.Background(), unit(7))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ident.ID != 2 {
		t.Errorf("identity = %d, want 2", ident.ID)
	}
	if cache["unit:7"] != 2 {
		t.Errorf("cache not refreshed: %d", cache["unit:7"])
	}
}

// TestInvalidate verifies a flushed cache resolves again from the store.
func TestInvalidate(t *testing.T) {
	repo := &fakeRepo{identities: []*models.MailIdentity{
		{ID: 1},
		{ID: 2, UnitID: unit(7)},
	}}
	cache := mapCache{}
	r := NewResolver(repo, cache)

	if _, err := r.ResolveForUnit(context.Background(), unit(7)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The unit's identity is replaced by a new one.
	repo.identities = []*models.MailIdentity{{ID: 1}, {ID: 3, UnitID: unit(7)}}
	cache["unit:7"] = 1

	if err := r.Invalidate(context.Background()); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if len(cache) != 0 {
		t.Fatalf("cache = %v, want empty", cache)
	}
	ident, err := r.ResolveForUnit(context.Background(), unit(7))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ident.ID != 3 {
		t.Errorf("identity = %d, want 3", ident.ID)
	}
}

// TestByID verifies pinned lookups return nil for missing identities.
func TestByID(t *testing.T) {
	r := NewResolver(&fakeRepo{identities: []*models.MailIdentity{{ID: 4}}}, nil)

	ident, err := r.ByID(context.Background(), 4)
	if err != nil || ident == nil || ident.ID != 4 {
		t.Errorf("ByID(4) = %v, %v", ident, err)
	}

	ident, err = r.ByID(context.Background(), 5)
	if err != nil || ident != nil {
		t.Errorf("ByID(5) = %v, %v, want nil, nil", ident, err)
	}
}
