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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Operator is the comparison a CONDITION_MET trigger applies to its field.
type Operator string

const (
	// OpSet fires when the field goes from empty to non-empty.
	OpSet Operator = "SET"
	// OpEquals fires whenever the new value equals the configured value.
	OpEquals Operator = "EQUALS"
)

// Condition is a decoded CONDITION_MET conditions document.
type Condition interface {
	// Field is the project field the condition watches.
	Field() string
	// Matches decides on the field's new and prior value. It is only
	// consulted when the field was part of the update.
	Matches(newValue, oldValue any) bool
}

// SetCondition is an edge trigger on a field becoming set.
type SetCondition struct {
	FieldName string
}

func (c SetCondition) Field() string { return c.FieldName }

func (c SetCondition) Matches(newValue, oldValue any) bool {
	return isEmpty(oldValue) && !isEmpty(newValue)
}

// EqualsCondition is a level trigger on a field holding a value. It fires
// again on every update that re-submits the same value.
type EqualsCondition struct {
	FieldName string
	Value     string
}

func (c EqualsCondition) Field() string { return c.FieldName }

func (c EqualsCondition) Matches(newValue, _ any) bool {
	if newValue == nil {
		return false
	}
	return stringify(newValue) == c.Value
}

// conditionDoc is the stored JSON shape of a conditions document.
type conditionDoc struct {
	Field    string          `json:"field" validate:"required"`
	Operator Operator        `json:"operator" validate:"required,oneof=SET EQUALS"`
	Value    json.RawMessage `json:"value,omitempty"`
}

// ErrMalformedCondition is returned for conditions documents that cannot
// drive an evaluation.
var ErrMalformedCondition = errors.New("malformed condition")

// DecodeCondition parses a conditions document into its tagged variant.
func DecodeCondition(raw json.RawMessage) (Condition, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrMalformedCondition)
	}

	var doc conditionDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCondition, err)
	}
	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCondition, err)
	}

	switch doc.Operator {
	case OpSet:
		return SetCondition{FieldName: doc.Field}, nil
	case OpEquals:
		value, err := decodeValue(doc.Value)
		if err != nil {
			return nil, err
		}
		return EqualsCondition{FieldName: doc.Field, Value: value}, nil
	}
	return nil, fmt.Errorf("%w: unknown operator %q", ErrMalformedCondition, doc.Operator)
}

func decodeValue(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", fmt.Errorf("%w: EQUALS requires a value", ErrMalformedCondition)
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return "", fmt.Errorf("%w: value: %v", ErrMalformedCondition, err)
	}
	switch v.(type) {
	case map[string]any, []any:
		return "", fmt.Errorf("%w: value must be a scalar", ErrMalformedCondition)
	}
	return stringify(v), nil
}

// isEmpty treats absent, null and blank string values as unset.
func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case *string:
		return val == nil || strings.TrimSpace(*val) == ""
	}
	return false
}

// stringify renders a decoded JSON scalar the way it was submitted.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case *string:
		if val == nil {
			return ""
		}
		return *val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	}
	return fmt.Sprint(v)
}
