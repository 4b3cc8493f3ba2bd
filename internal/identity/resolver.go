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

// Package identity selects the outbound mail identity for an organizational
// unit, falling back to the single global identity.
//
// Resolution order:
//  1. the oldest identity owned by the unit, when a unit is known
//  2. the oldest identity without an owning unit
//  3. ConfigurationError; an operator must set up mail first
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/agencyops/mailflow/internal/models"
)

// ConfigurationError means no identity is resolvable at all. It indicates
// missing setup, not a transient fault, and must not be retried.
type ConfigurationError struct {
	UnitID *int64
}

func (e *ConfigurationError) Error() string {
	if e.UnitID != nil {
		return fmt.Sprintf("no mail identity configured for unit %d and no global fallback", *e.UnitID)
	}
	return "no mail identity configured and no global fallback"
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// Repository is the data access the resolver needs. Lookups return
// (nil, nil) when nothing matches. Implemented by store.Store.
type Repository interface {
	OldestIdentityForUnit(ctx context.Context, unitID int64) (*models.MailIdentity, error)
	OldestGlobalIdentity(ctx context.Context) (*models.MailIdentity, error)
	IdentityByID(ctx context.Context, id int64) (*models.MailIdentity, error)
	ProjectUnitID(ctx context.Context, projectID int64) (*int64, error)
}

// Resolver resolves mail identities, remembering unit resolutions in an
// injected cache.
type Resolver struct {
	repo  Repository
	cache Cache
}

// NewResolver creates a resolver. A nil cache disables caching.
func NewResolver(repo Repository, cache Cache) *Resolver {
	if cache == nil {
		cache = NopCache{}
	}
	return &Resolver{repo: repo, cache: cache}
}

// ResolveForProject loads the project's owning unit and resolves for it.
func (r *Resolver) ResolveForProject(ctx context.Context, projectID int64) (*models.MailIdentity, error) {
	unitID, err := r.repo.ProjectUnitID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load unit for project %d: %w", projectID, err)
	}
	return r.ResolveForUnit(ctx, unitID)
}

// ResolveForUnit resolves the identity for unitID (nil = no unit).
func (r *Resolver) ResolveForUnit(ctx context.Context, unitID *int64) (*models.MailIdentity, error) {
	key := cacheKey(unitID)

	if id, ok, err := r.cache.Lookup(ctx, key); err != nil {
		slog.Warn("identity cache lookup failed, resolving from store", "key", key, "error", err)
	} else if ok {
		ident, err := r.repo.IdentityByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load cached identity %d: %w", id, err)
		}
		if ident != nil {
			return ident, nil
		}
		// Identity was removed since it was cached; resolve again.
	}

	ident, err := r.resolve(ctx, unitID)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Remember(ctx, key, ident.ID); err != nil {
		slog.Warn("identity cache write failed", "key", key, "error", err)
	}
	return ident, nil
}

// Invalidate forgets every cached resolution so edited identities take
// effect before the cache TTL runs out.
func (r *Resolver) Invalidate(ctx context.Context) error {
	if err := r.cache.Flush(ctx); err != nil {
		return fmt.Errorf("flush identity cache: %w", err)
	}
	slog.Info("identity cache flushed")
	return nil
}

// ByID loads a pinned identity. It returns (nil, nil) when the identity no
// longer exists.
func (r *Resolver) ByID(ctx context.Context, id int64) (*models.MailIdentity, error) {
	ident, err := r.repo.IdentityByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load identity %d: %w", id, err)
	}
	return ident, nil
}

func (r *Resolver) resolve(ctx context.Context, unitID *int64) (*models.MailIdentity, error) {
	if unitID != nil {
		ident, err := r.repo.OldestIdentityForUnit(ctx, *unitID)
		if err != nil {
			return nil, fmt.Errorf("load identity for unit %d: %w", *unitID, err)
		}
		if ident != nil {
			return ident, nil
		}
	}

	ident, err := r.repo.OldestGlobalIdentity(ctx)
	if err != nil {
		return nil, fmt.Errorf("load global identity: %w", err)
	}
	if ident == nil {
		return nil, &ConfigurationError{UnitID: unitID}
	}
	return ident, nil
}

func cacheKey(unitID *int64) string {
	if unitID == nil {
		return "global"
	}
	return "unit:" + strconv.FormatInt(*unitID, 10)
}
