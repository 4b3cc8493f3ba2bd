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

// Package models defines the data structures shared across the mail pipeline:
// the project graph the triggers observe, and the email entities the
// pipeline reads and writes.
package models

import "time"

// ProjectType is the closed set of project kinds an agency tracks.
type ProjectType string

const (
	ProjectTypeWebsite ProjectType = "WEBSITE"
	ProjectTypeFilm    ProjectType = "FILM"
	ProjectTypePrint   ProjectType = "PRINT"
)

// OrganizationalUnit is the agency a client belongs to. It routes mail
// identity and signature selection.
type OrganizationalUnit struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Client is the customer owning a project.
type Client struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Salutation string `json:"salutation,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`

	UnitID *int64              `json:"unit_id,omitempty"`
	Unit   *OrganizationalUnit `json:"unit,omitempty"`
}

// Agent is a staff member. Projects reference agents as the assigned
// contact, and film details as filmer and cutter.
type Agent struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	RoleTitle string `json:"role_title,omitempty"`
}

// WebsiteDetail carries the website-specific project fields.
type WebsiteDetail struct {
	Domain          string     `json:"domain,omitempty"`
	DemoLink        string     `json:"demo_link,omitempty"`
	DemoDate        *time.Time `json:"demo_date,omitempty"`
	OnlineDate      *time.Time `json:"online_date,omitempty"`
	WebDate         *time.Time `json:"web_date,omitempty"`
	AppointmentType string     `json:"appointment_type,omitempty"` // PHONE, ONSITE, VIDEO
	Status          string     `json:"status,omitempty"`
}

// FilmDetail carries the film-specific project fields.
type FilmDetail struct {
	PreviewLink string     `json:"preview_link,omitempty"`
	FinalLink   string     `json:"final_link,omitempty"`
	ShootDate   *time.Time `json:"shoot_date,omitempty"`
	Status      string     `json:"status,omitempty"`
	Filmer      *Agent     `json:"filmer,omitempty"`
	Cutter      *Agent     `json:"cutter,omitempty"`
}

// PrintDetail carries the print-specific project fields.
type PrintDetail struct {
	ProofDate    *time.Time `json:"proof_date,omitempty"`
	DeliveryDate *time.Time `json:"delivery_date,omitempty"`
	Status       string     `json:"status,omitempty"`
}

// Project is a fully loaded project graph: the project row, its client
// (with unit), the assigned agent, and at most one type-specific detail.
type Project struct {
	ID        int64       `json:"id"`
	Type      ProjectType `json:"type"`
	Status    string      `json:"status"`
	Title     string      `json:"title"`
	CreatedAt time.Time   `json:"created_at"`

	Client  *Client        `json:"client,omitempty"`
	Agent   *Agent         `json:"agent,omitempty"`
	Website *WebsiteDetail `json:"website,omitempty"`
	Film    *FilmDetail    `json:"film,omitempty"`
	Print   *PrintDetail   `json:"print,omitempty"`
}

// UnitID returns the owning organizational unit of the project's client,
// or nil when the client has none.
func (p *Project) UnitID() *int64 {
	if p == nil || p.Client == nil {
		return nil
	}
	return p.Client.UnitID
}
