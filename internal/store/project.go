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
	"fmt"
	"time"

	"github.com/agencyops/mailflow/internal/models"
)

// projectQuery loads a project with its client, unit, agent and detail
// records in one round trip.
const projectQuery = `
	SELECT p.id, p.type, COALESCE(p.status, ''), COALESCE(p.title, ''), p.created_at,

	       c.id, COALESCE(c.name, ''), COALESCE(c.salutation, ''),
	       COALESCE(c.first_name, ''), COALESCE(c.last_name, ''),
	       COALESCE(c.phone, ''), COALESCE(c.email, ''),
	       c.agency_id, COALESCE(ag.name, ''),

	       a.id, COALESCE(a.name, ''), COALESCE(a.email, ''),
	       COALESCE(a.phone, ''), COALESCE(a.role_title, ''),

	       wd.project_id, COALESCE(wd.domain, ''), COALESCE(wd.demo_link, ''),
	       wd.demo_date, wd.online_date, wd.web_date,
	       COALESCE(wd.appointment_type, ''), COALESCE(wd.status, ''),

	       fd.project_id, COALESCE(fd.preview_link, ''), COALESCE(fd.final_link, ''),
	       fd.shoot_date, COALESCE(fd.status, ''),
	       fu.id, COALESCE(fu.name, ''), COALESCE(fu.email, ''),
	       cu.id, COALESCE(cu.name, ''), COALESCE(cu.email, ''),

	       pd.project_id, pd.proof_date, pd.delivery_date, COALESCE(pd.status, '')
	FROM projects p
	LEFT JOIN clients c          ON c.id = p.client_id
	LEFT JOIN agencies ag        ON ag.id = c.agency_id
	LEFT JOIN users a            ON a.id = p.agent_id
	LEFT JOIN website_details wd ON wd.project_id = p.id
	LEFT JOIN film_details fd    ON fd.project_id = p.id
	LEFT JOIN users fu           ON fu.id = fd.filmer_id
	LEFT JOIN users cu           ON cu.id = fd.cutter_id
	LEFT JOIN print_details pd   ON pd.project_id = p.id
	WHERE p.id = $1
`

// LoadProject loads the full project graph. It returns (nil, nil) when the
// project does not exist.
func (s *Store) LoadProject(ctx context.Context, id int64) (*models.Project, error) {
	var (
		p       models.Project
		client  models.Client
		unit    models.OrganizationalUnit
		agent   models.Agent
		web     models.WebsiteDetail
		film    models.FilmDetail
		filmer  models.Agent
		cutter  models.Agent
		printed models.PrintDetail

		projectType                        string
		clientID, agentID                  *int64
		webID, filmID, filmerID, cutterID  *int64
		printID                            *int64
		demoDate, onlineDate, webDate      *time.Time
		shootDate, proofDate, deliveryDate *time.Time
	)

	err := s.pool.QueryRow(ctx, projectQuery, id).Scan(
		&p.ID, &projectType, &p.Status, &p.Title, &p.CreatedAt,

		&clientID, &client.Name, &client.Salutation,
		&client.FirstName, &client.LastName,
		&client.Phone, &client.Email,
		&client.UnitID, &unit.Name,

		&agentID, &agent.Name, &agent.Email, &agent.Phone, &agent.RoleTitle,

		&webID, &web.Domain, &web.DemoLink,
		&demoDate, &onlineDate, &webDate,
		&web.AppointmentType, &web.Status,

		&filmID, &film.PreviewLink, &film.FinalLink,
		&shootDate, &film.Status,
		&filmerID, &filmer.Name, &filmer.Email,
		&cutterID, &cutter.Name, &cutter.Email,

		&printID, &proofDate, &deliveryDate, &printed.Status,
	)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query project %d: %w", id, err)
	}

	p.Type = models.ProjectType(projectType)

	if clientID != nil {
		client.ID = *clientID
		if client.UnitID != nil {
			unit.ID = *client.UnitID
			client.Unit = &unit
		}
		p.Client = &client
	}
	if agentID != nil {
		agent.ID = *agentID
		p.Agent = &agent
	}
	if webID != nil {
		web.DemoDate, web.OnlineDate, web.WebDate = demoDate, onlineDate, webDate
		p.Website = &web
	}
	if filmID != nil {
		film.ShootDate = shootDate
		if filmerID != nil {
			filmer.ID = *filmerID
			film.Filmer = &filmer
		}
		if cutterID != nil {
			cutter.ID = *cutterID
			film.Cutter = &cutter
		}
		p.Film = &film
	}
	if printID != nil {
		printed.ProofDate, printed.DeliveryDate = proofDate, deliveryDate
		p.Print = &printed
	}

	return &p, nil
}

// ProjectUnitID returns the organizational unit owning the project's client.
// A project without client or unit yields nil.
func (s *Store) ProjectUnitID(ctx context.Context, projectID int64) (*int64, error) {
	var unitID *int64
	err := s.pool.QueryRow(ctx, `
		SELECT c.agency_id
		FROM projects p
		LEFT JOIN clients c ON c.id = p.client_id
		WHERE p.id = $1
	`, projectID).Scan(&unitID)
	if noRows(err) {
		return nil, fmt.Errorf("project %d: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query project unit: %w", err)
	}
	return unitID, nil
}
