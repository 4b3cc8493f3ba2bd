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

// Package recipient maps a trigger's role-based recipient configuration onto
// concrete addresses through an already-loaded project graph.
package recipient

import (
	"strings"

	"github.com/agencyops/mailflow/internal/models"
)

// Result is a resolved recipient set. To is "" when the primary role could
// not be resolved; CC never contains empty addresses.
type Result struct {
	To string
	CC []string
}

// Resolved reports whether a primary address was found.
func (r Result) Resolved() bool { return r.To != "" }

// CCJoined returns the CC list in its stored comma-joined form.
func (r Result) CCJoined() string { return strings.Join(r.CC, ",") }

// Resolve looks up the To role and every CC role. CC roles that do not
// resolve are omitted.
func Resolve(rs models.RecipientSpec, p *models.Project) Result {
	res := Result{To: Address(rs.To, p), CC: []string{}}
	for _, role := range rs.CC {
		if addr := Address(role, p); addr != "" {
			res.CC = append(res.CC, addr)
		}
	}
	return res
}

// Address returns the email of the person holding role on p, or "".
func Address(role models.RoleTag, p *models.Project) string {
	if p == nil {
		return ""
	}
	switch role {
	case models.RoleClient:
		if p.Client != nil {
			return strings.TrimSpace(p.Client.Email)
		}
	case models.RoleAgent:
		return agentEmail(p.Agent)
	case models.RoleFilmer:
		if p.Film != nil {
			return agentEmail(p.Film.Filmer)
		}
	case models.RoleCutter:
		if p.Film != nil {
			return agentEmail(p.Film.Cutter)
		}
	}
	return ""
}

func agentEmail(a *models.Agent) string {
	if a == nil {
		return ""
	}
	return strings.TrimSpace(a.Email)
}

// SplitCC parses a comma-joined CC column back into addresses.
func SplitCC(joined string) []string {
	var out []string
	for _, part := range strings.Split(joined, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
