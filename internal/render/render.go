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

// Package render substitutes {{group.field}} placeholders in template and
// signature text with values derived from a loaded project graph.
//
// The key set is fixed. Every known key is replaced everywhere it occurs,
// with the empty string when the underlying value is absent. Unknown
// placeholders pass through verbatim so template authors can spot typos in
// the sent message.
package render

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agencyops/mailflow/internal/clock"
	"github.com/agencyops/mailflow/internal/models"
)

// Locale controls how dates and enumerated tags are presented.
type Locale struct {
	DateLayout        string
	DateTimeLayout    string
	Location          *time.Location
	AppointmentLabels map[string]string
}

// GermanLocale is the agency's default presentation. A nil location means UTC.
func GermanLocale(loc *time.Location) Locale {
	if loc == nil {
		loc = time.UTC
	}
	return Locale{
		DateLayout:     "02.01.2006",
		DateTimeLayout: "02.01.2006 15:04",
		Location:       loc,
		AppointmentLabels: map[string]string{
			"PHONE":  "Telefontermin",
			"ONSITE": "Vor-Ort-Termin",
			"VIDEO":  "Videotermin",
		},
	}
}

// Renderer performs the placeholder substitution pass.
type Renderer struct {
	locale Locale
	clock  clock.Clock
}

// New creates a renderer. A nil clock uses the real time.
func New(locale Locale, clk clock.Clock) *Renderer {
	if clk == nil {
		clk = clock.Real()
	}
	if locale.Location == nil {
		locale.Location = time.UTC
	}
	return &Renderer{locale: locale, clock: clk}
}

type field func(r *Renderer, p *models.Project) string

// placeholders is the fixed key set. Each getter must tolerate missing
// relations and return "" for them.
var placeholders = map[string]field{
	"client.name":       func(_ *Renderer, p *models.Project) string { return clientOf(p).Name },
	"client.salutation": func(_ *Renderer, p *models.Project) string { return clientOf(p).Salutation },
	"client.firstName":  func(_ *Renderer, p *models.Project) string { return clientOf(p).FirstName },
	"client.lastName":   func(_ *Renderer, p *models.Project) string { return clientOf(p).LastName },
	"client.phone":      func(_ *Renderer, p *models.Project) string { return clientOf(p).Phone },
	"client.email":      func(_ *Renderer, p *models.Project) string { return clientOf(p).Email },

	"agency.name": func(_ *Renderer, p *models.Project) string {
		if u := clientOf(p).Unit; u != nil {
			return u.Name
		}
		return ""
	},

	"agent.name":  func(_ *Renderer, p *models.Project) string { return agentOf(p.Agent).Name },
	"agent.email": func(_ *Renderer, p *models.Project) string { return agentOf(p.Agent).Email },
	"agent.phone": func(_ *Renderer, p *models.Project) string { return agentOf(p.Agent).Phone },
	"agent.title": func(_ *Renderer, p *models.Project) string { return agentOf(p.Agent).RoleTitle },

	"project.id": func(_ *Renderer, p *models.Project) string {
		if p.ID == 0 {
			return ""
		}
		return strconv.FormatInt(p.ID, 10)
	},
	"project.title":     func(_ *Renderer, p *models.Project) string { return p.Title },
	"project.type":      func(_ *Renderer, p *models.Project) string { return string(p.Type) },
	"project.status":    func(_ *Renderer, p *models.Project) string { return p.Status },
	"project.createdAt": func(r *Renderer, p *models.Project) string { return r.date(&p.CreatedAt) },

	"website.domain":     func(_ *Renderer, p *models.Project) string { return websiteOf(p).Domain },
	"website.demoLink":   func(_ *Renderer, p *models.Project) string { return websiteOf(p).DemoLink },
	"website.demoDate":   func(r *Renderer, p *models.Project) string { return r.date(websiteOf(p).DemoDate) },
	"website.onlineDate": func(r *Renderer, p *models.Project) string { return r.date(websiteOf(p).OnlineDate) },
	"website.webDate":    func(r *Renderer, p *models.Project) string { return r.dateTime(websiteOf(p).WebDate) },
	"website.appointmentType": func(r *Renderer, p *models.Project) string {
		return r.appointmentLabel(websiteOf(p).AppointmentType)
	},
	"website.status": func(_ *Renderer, p *models.Project) string { return websiteOf(p).Status },

	"film.previewLink": func(_ *Renderer, p *models.Project) string { return filmOf(p).PreviewLink },
	"film.finalLink":   func(_ *Renderer, p *models.Project) string { return filmOf(p).FinalLink },
	"film.shootDate":   func(r *Renderer, p *models.Project) string { return r.dateTime(filmOf(p).ShootDate) },
	"film.status":      func(_ *Renderer, p *models.Project) string { return filmOf(p).Status },
	"film.filmer":      func(_ *Renderer, p *models.Project) string { return agentOf(filmOf(p).Filmer).Name },
	"film.cutter":      func(_ *Renderer, p *models.Project) string { return agentOf(filmOf(p).Cutter).Name },

	"print.proofDate":    func(r *Renderer, p *models.Project) string { return r.date(printOf(p).ProofDate) },
	"print.deliveryDate": func(r *Renderer, p *models.Project) string { return r.date(printOf(p).DeliveryDate) },
	"print.status":       func(_ *Renderer, p *models.Project) string { return printOf(p).Status },

	"date.today": func(r *Renderer, _ *models.Project) string {
		now := r.clock.Now()
		return r.date(&now)
	},
}

// Keys returns the recognised placeholder keys, sorted.
func Keys() []string {
	keys := make([]string, 0, len(placeholders))
	for k := range placeholders {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values derives the string value of every recognised key for p.
func (r *Renderer) Values(p *models.Project) map[string]string {
	if p == nil {
		p = &models.Project{}
	}
	values := make(map[string]string, len(placeholders))
	for key, get := range placeholders {
		values[key] = get(r, p)
	}
	return values
}

// Render substitutes every recognised placeholder in text. Substitution is a
// single pass, so values that themselves contain braces are not expanded.
func (r *Renderer) Render(text string, p *models.Project) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	values := r.Values(p)
	pairs := make([]string, 0, 2*len(values))
	for key, value := range values {
		pairs = append(pairs, "{{"+key+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

func (r *Renderer) date(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.In(r.locale.Location).Format(r.locale.DateLayout)
}

func (r *Renderer) dateTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.In(r.locale.Location).Format(r.locale.DateTimeLayout)
}

func (r *Renderer) appointmentLabel(tag string) string {
	if tag == "" {
		return ""
	}
	if label, ok := r.locale.AppointmentLabels[tag]; ok {
		return label
	}
	return tag
}

func clientOf(p *models.Project) *models.Client {
	if p.Client == nil {
		return &models.Client{}
	}
	return p.Client
}

func agentOf(a *models.Agent) *models.Agent {
	if a == nil {
		return &models.Agent{}
	}
	return a
}

func websiteOf(p *models.Project) *models.WebsiteDetail {
	if p.Website == nil {
		return &models.WebsiteDetail{}
	}
	return p.Website
}

func filmOf(p *models.Project) *models.FilmDetail {
	if p.Film == nil {
		return &models.FilmDetail{}
	}
	return p.Film
}

func printOf(p *models.Project) *models.PrintDetail {
	if p.Print == nil {
		return &models.PrintDetail{}
	}
	return p.Print
}
