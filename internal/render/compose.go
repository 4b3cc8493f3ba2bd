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

package render

import (
	"context"
	"fmt"

	"github.com/agencyops/mailflow/internal/models"
)

// Separators between a rendered body and its signature. HTML collapses
// newlines, so HTML content gets line breaks instead.
const (
	SignatureSeparator     = "\n\n"
	HTMLSignatureSeparator = "<br><br>"
)

// SignatureStore looks up signatures. Both methods return (nil, nil) when
// nothing matches. Implemented by store.Store.
type SignatureStore interface {
	OldestSignatureForUnit(ctx context.Context, unitID int64) (*models.EmailSignature, error)
	OldestGlobalSignature(ctx context.Context) (*models.EmailSignature, error)
}

// Message is a rendered subject and body.
type Message struct {
	Subject string
	Body    string
}

// Composer renders a template for a project and appends the applicable
// signature.
type Composer struct {
	renderer   *Renderer
	signatures SignatureStore
}

// NewComposer creates a composer. A nil signature store disables signatures.
func NewComposer(renderer *Renderer, signatures SignatureStore) *Composer {
	return &Composer{renderer: renderer, signatures: signatures}
}

// Compose renders tpl against p. When a signature applies to the project's
// unit (or the global default does), it is rendered with the same pass and
// appended after a blank line.
func (c *Composer) Compose(ctx context.Context, tpl *models.EmailTemplate, p *models.Project) (Message, error) {
	msg := Message{
		Subject: c.renderer.Render(tpl.Subject, p),
		Body:    c.renderer.Render(tpl.Body, p),
	}

	sig, err := c.Signature(ctx, p.UnitID())
	if err != nil {
		return Message{}, err
	}
	if sig != nil {
		rendered := c.renderer.Render(sig.Body, p)
		sep := SignatureSeparator
		if LooksLikeHTML(msg.Body) || LooksLikeHTML(rendered) {
			sep = HTMLSignatureSeparator
		}
		msg.Body += sep + rendered
	}
	return msg, nil
}

// Signature returns the signature for unitID: the oldest one owned by the
// unit, else the oldest global one, else nil.
func (c *Composer) Signature(ctx context.Context, unitID *int64) (*models.EmailSignature, error) {
	if c.signatures == nil {
		return nil, nil
	}
	if unitID != nil {
		sig, err := c.signatures.OldestSignatureForUnit(ctx, *unitID)
		if err != nil {
			return nil, fmt.Errorf("load signature for unit %d: %w", *unitID, err)
		}
		if sig != nil {
			return sig, nil
		}
	}
	sig, err := c.signatures.OldestGlobalSignature(ctx)
	if err != nil {
		return nil, fmt.Errorf("load default signature: %w", err)
	}
	return sig, nil
}
