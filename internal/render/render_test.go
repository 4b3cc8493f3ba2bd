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
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/agencyops/mailflow/internal/clock"
	"github.com/agencyops/mailflow/internal/models"
)

func int64p(v int64) *int64 { return &v }

func timep(t time.Time) *time.Time { return &t }

func testProject() *models.Project {
	return &models.Project{
		ID:     42,
		Type:   models.ProjectTypeWebsite,
		Status: "WEBTERMIN",
		Title:  "Relaunch Bäckerei Müller",
		Client: &models.Client{
			ID:         7,
			Name:       "Bäckerei Müller",
			Salutation: "Herr",
			FirstName:  "Hans",
			LastName:   "Müller",
			Phone:      "+49 30 1234",
			Email:      "hans@mueller.example",
			UnitID:     int64p(3),
			Unit:       &models.OrganizationalUnit{ID: 3, Name: "Agentur Nord"},
		},
		Agent: &models.Agent{ID: 9, Name: "Lena Schmidt", Email: "lena@agency.example", RoleTitle: "Projektleitung"},
		Website: &models.WebsiteDetail{
			Domain:          "mueller.example",
			DemoDate:        timep(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)),
			WebDate:         timep(time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)),
			AppointmentType: "PHONE",
		},
	}
}

func newTestRenderer() *Renderer {
	return New(GermanLocale(time.UTC), clock.NewFake(time.Date(2024, 2, 20, 9, 0, 0, 0, time.UTC)))
}

// TestRender_SubstitutesAllOccurrences verifies every occurrence of a known
// key is replaced.
func TestRender_SubstitutesAllOccurrences(t *testing.T) {
	r := newTestRenderer()

	got := r.Render("{{client.name}} / {{client.name}} / {{project.title}}", testProject())
	want := "Bäckerei Müller / Bäckerei Müller / Relaunch Bäckerei Müller"
	if got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
}

// TestRender_EveryKeyResolves verifies no recognised key survives rendering,
// even against an empty project.
func TestRender_EveryKeyResolves(t *testing.T) {
	r := newTestRenderer()

	for _, key := range Keys() {
		for _, p := range []*models.Project{{}, testProject()} {
			out := r.Render("x{{"+key+"}}x", p)
			if strings.Contains(out, "{{") {
				t.Errorf("key %s not substituted: %q", key, out)
			}
		}
	}
}

// TestRender_UnknownPlaceholdersPreserved verifies unrecognised tokens pass
// through verbatim.
func TestRender_UnknownPlaceholdersPreserved(t *testing.T) {
	r := newTestRenderer()

	in := "Hallo {{client.nmae}}, {{client.salutation}} {{client.lastName}} {{foo}}"
	got := r.Render(in, testProject())

	for _, token := range []string{"{{client.nmae}}", "{{foo}}"} {
		if !strings.Contains(got, token) {
			t.Errorf("unknown token %s missing from %q", token, got)
		}
	}
	if !strings.Contains(got, "Herr Müller") {
		t.Errorf("known tokens not rendered: %q", got)
	}
}

// TestRender_AbsentValuesAreEmpty verifies missing relations render as "".
func TestRender_AbsentValuesAreEmpty(t *testing.T) {
	r := newTestRenderer()
	p := testProject()
	p.Agent = nil
	p.Film = nil

	got := r.Render("[{{agent.name}}][{{film.previewLink}}][{{film.filmer}}]", p)
	if got != "[][][]" {
		t.Errorf("Render = %q, want [][][]", got)
	}
}

// TestRender_ValuesNotReexpanded verifies substituted values containing
// braces are not treated as placeholders.
func TestRender_ValuesNotReexpanded(t *testing.T) {
	r := newTestRenderer()
	p := testProject()
	p.Client.Name = "{{project.title}}"

	got := r.Render("{{client.name}}", p)
	if got != "{{project.title}}" {
		t.Errorf("Render = %q, want literal {{project.title}}", got)
	}
}

// TestRender_DateFormats verifies date-only and date-time styles.
func TestRender_DateFormats(t *testing.T) {
	cet := time.FixedZone("CET", 3600)
	r := New(GermanLocale(cet), clock.NewFake(time.Date(2024, 2, 20, 23, 30, 0, 0, time.UTC)))

	tests := []struct {
		tpl  string
		want string
	}{
		{"{{website.demoDate}}", "01.03.2024"},
		{"{{website.webDate}}", "05.03.2024 15:30"},
		{"{{website.onlineDate}}", ""},
		{"{{date.today}}", "21.02.2024"},
	}

	for _, tt := range tests {
		t.Run(tt.tpl, func(t *testing.T) {
			if got := r.Render(tt.tpl, testProject()); got != tt.want {
				t.Errorf("Render(%s) = %q, want %q", tt.tpl, got, tt.want)
			}
		})
	}
}

// TestRender_AppointmentLabel verifies the appointment tag is humanised and
// unknown tags fall back to the raw value.
func TestRender_AppointmentLabel(t *testing.T) {
	r := newTestRenderer()
	p := testProject()

	if got := r.Render("{{website.appointmentType}}", p); got != "Telefontermin" {
		t.Errorf("PHONE label = %q, want Telefontermin", got)
	}

	p.Website.AppointmentType = "CARRIER_PIGEON"
	if got := r.Render("{{website.appointmentType}}", p); got != "CARRIER_PIGEON" {
		t.Errorf("unknown label = %q, want raw tag", got)
	}
}

// fakeSignatures implements SignatureStore.
type fakeSignatures struct {
	byUnit map[int64]*models.EmailSignature
	global *models.EmailSignature
	err    error
}

func (f *fakeSignatures) OldestSignatureForUnit(_ context.Context, unitID int64) (*models.EmailSignature, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byUnit[unitID], nil
}

func (f *fakeSignatures) OldestGlobalSignature(_ context.Context) (*models.EmailSignature, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.global, nil
}

// TestCompose_UnitSignature verifies the unit's signature is rendered and
// appended after a blank line.
func TestCompose_UnitSignature(t *testing.T) {
	sigs := &fakeSignatures{
		byUnit: map[int64]*models.EmailSignature{3: {ID: 1, Body: "Ihr Team {{agency.name}}"}},
		global: &models.EmailSignature{ID: 2, Body: "Global"},
	}
	c := NewComposer(newTestRenderer(), sigs)

	msg, err := c.Compose(context.Background(), &models.EmailTemplate{
		Subject: "Demo für {{client.name}}",
		Body:    "Hallo {{client.firstName}}",
	}, testProject())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.Subject != "Demo für Bäckerei Müller" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if msg.Body != "Hallo Hans\n\nIhr Team Agentur Nord" {
		t.Errorf("body = %q", msg.Body)
	}
}

// TestCompose_GlobalFallback verifies the unit-less signature is used when
// the unit has none, or the client has no unit.
func TestCompose_GlobalFallback(t *testing.T) {
	sigs := &fakeSignatures{
		byUnit: map[int64]*models.EmailSignature{},
		global: &models.EmailSignature{ID: 2, Body: "Global"},
	}
	c := NewComposer(newTestRenderer(), sigs)

	p := testProject()
	msg, err := c.Compose(context.Background(), &models.EmailTemplate{Body: "Body"}, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Body != "Body\n\nGlobal" {
		t.Errorf("body = %q, want global signature", msg.Body)
	}

	p.Client.UnitID = nil
	msg, _ = c.Compose(context.Background(), &models.EmailTemplate{Body: "Body"}, p)
	if msg.Body != "Body\n\nGlobal" {
		t.Errorf("body without unit = %q, want global signature", msg.Body)
	}
}

// TestCompose_HTMLSignatureSeparator verifies HTML content is separated from
// its signature by line breaks rather than newlines.
func TestCompose_HTMLSignatureSeparator(t *testing.T) {
	tests := []struct {
		name string
		body string
		sig  string
		want string
	}{
		{"html body", "<p>Hallo {{client.firstName}}</p>", "Ihr Team", "<p>Hallo Hans</p><br><br>Ihr Team"},
		{"html signature", "Hallo", "<b>{{agency.name}}</b>", "Hallo<br><br><b>Agentur Nord</b>"},
		{"plain text", "Hallo", "Ihr Team", "Hallo\n\nIhr Team"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewComposer(newTestRenderer(), &fakeSignatures{global: &models.EmailSignature{ID: 1, Body: tt.sig}})
			msg, err := c.Compose(context.Background(), &models.EmailTemplate{Body: tt.body}, testProject())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msg.Body != tt.want {
				t.Errorf("body = %q, want %q", msg.Body, tt.want)
			}
		})
	}
}

// TestCompose_NoSignature verifies no separator is added without a signature.
func TestCompose_NoSignature(t *testing.T) {
	c := NewComposer(newTestRenderer(), &fakeSignatures{})

	msg, err := c.Compose(context.Background(), &models.EmailTemplate{Body: "Body"}, testProject())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Body != "Body" {
		t.Errorf("body = %q, want Body", msg.Body)
	}
}

// TestCompose_SignatureStoreError verifies lookup failures are returned.
func TestCompose_SignatureStoreError(t *testing.T) {
	boom := errors.New("db down")
	c := NewComposer(newTestRenderer(), &fakeSignatures{err: boom})

	_, err := c.Compose(context.Background(), &models.EmailTemplate{Body: "Body"}, testProject())
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped db error", err)
	}
}

// TestHTMLToText verifies markup stripping for the plain-text alternative.
func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain passthrough", "Hallo\n\nWelt", "Hallo\n\nWelt"},
		{"paragraphs", "<p>Hallo</p><p>Welt</p>", "Hallo\n\nWelt"},
		{"line break", "Zeile 1<br>Zeile 2", "Zeile 1\nZeile 2"},
		{"entities", "<b>A &amp; B</b>", "A & B"},
		{"script dropped", "<style>p{}</style><p>Text</p>", "Text"},
		{"link target", `<a href="https://x.example/demo">Demo</a>`, "Demo (https://x.example/demo)"},
		{"link label is target", `<a href="https://x.example">https://x.example</a>`, "https://x.example"},
		{"list", "<ul><li>Eins</li><li>Zwei</li></ul>", "- Eins\n- Zwei"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTMLToText(tt.in); got != tt.want {
				t.Errorf("HTMLToText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestPlainToHTML verifies escaping and line break preservation.
func TestPlainToHTML(t *testing.T) {
	got := PlainToHTML("a < b\nc")
	if got != "a &lt; b<br>\nc" {
		t.Errorf("PlainToHTML = %q", got)
	}
}
