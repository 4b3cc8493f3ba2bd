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

package trigger

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/agencyops/mailflow/internal/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// definition is the admin-editable part of a trigger.
type definition struct {
	Name        string              `validate:"required"`
	TriggerType models.TriggerType  `validate:"required,oneof=CONDITION_MET DATE_REACHED MANUAL"`
	ProjectType *models.ProjectType `validate:"omitempty,oneof=WEBSITE FILM PRINT"`
	TemplateID  int64               `validate:"gt=0"`
	DelayDays   *int                `validate:"omitempty,gte=0"`
	DelayType   models.DelayType    `validate:"omitempty,oneof=BEFORE AFTER EXACT"`
	Recipients  models.RecipientSpec
}

// Validate checks a trigger definition before it is stored. Evaluation
// assumes stored triggers passed this check and does not repeat it.
func Validate(t *models.EmailTrigger) error {
	def := definition{
		Name:        t.Name,
		TriggerType: t.TriggerType,
		ProjectType: t.ProjectType,
		TemplateID:  t.TemplateID,
		DelayDays:   t.DelayDays,
		DelayType:   t.DelayType,
		Recipients:  t.Recipients,
	}
	if err := validate.Struct(def); err != nil {
		return fmt.Errorf("invalid trigger %q: %w", t.Name, err)
	}

	if t.TriggerType == models.TriggerConditionMet {
		if _, err := DecodeCondition(t.Conditions); err != nil {
			return fmt.Errorf("invalid trigger %q: %w", t.Name, err)
		}
	}
	return nil
}
