/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package normalizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/blnkfinance/repay/model"
)

// Target names a SettlementNotification field a mapping writes to. The
// values match the notification's json tags.
type Target string

const (
	TargetExternalReference  Target = "external_reference"
	TargetBorrowerID         Target = "borrower_id"
	TargetAmount             Target = "amount"
	TargetSettledAt          Target = "settled_at"
	TargetTargetObligationID Target = "target_obligation_id"
	TargetReversesSettlement Target = "reverses_settlement_id"
)

// FieldMapping copies one value out of a raw payload into a notification
// field. Source is a dotted path into the payload ("data.id").
type FieldMapping struct {
	Target    Target
	Source    string
	Transform Transform
	Optional  bool
}

// Table is a channel's complete mapping. Supporting a new partner format
// means adding a Table, not code.
type Table struct {
	Channel  string
	Mappings []FieldMapping
}

// Normalize implements Normalizer by interpreting the table.
func (t *Table) Normalize(raw map[string]interface{}) (model.SettlementNotification, error) {
	return Apply(t, raw)
}

func (t *Table) sourceFor(target string) string {
	for _, m := range t.Mappings {
		if string(m.Target) == target {
			return m.Source
		}
	}
	return target
}

// Apply evaluates every mapping of the table against raw.
func Apply(t *Table, raw map[string]interface{}) (model.SettlementNotification, error) {
	n := model.SettlementNotification{Channel: t.Channel, RawPayload: raw}
	for _, m := range t.Mappings {
		value, found := Lookup(raw, m.Source)
		if !found || value == nil {
			if m.Optional {
				continue
			}
			return model.SettlementNotification{}, &NormalizationError{Channel: t.Channel, Field: m.Source, Reason: "is missing"}
		}

		transform := m.Transform
		if transform == nil {
			transform = AsString
		}
		converted, err := transform(value)
		if err != nil {
			return model.SettlementNotification{}, &NormalizationError{Channel: t.Channel, Field: m.Source, Reason: err.Error()}
		}
		if err := assign(&n, m.Target, converted); err != nil {
			return model.SettlementNotification{}, &NormalizationError{Channel: t.Channel, Field: m.Source, Reason: err.Error()}
		}
	}
	return n, nil
}

func assign(n *model.SettlementNotification, target Target, value interface{}) error {
	switch target {
	case TargetExternalReference, TargetBorrowerID, TargetTargetObligationID, TargetReversesSettlement:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("must map to a string, got %T", value)
		}
		switch target {
		case TargetExternalReference:
			n.ExternalReference = s
		case TargetBorrowerID:
			n.BorrowerID = s
		case TargetReversesSettlement:
			n.ReversesSettlementID = s
		default:
			n.TargetObligationID = s
		}
	case TargetAmount:
		amount, ok := value.(int64)
		if !ok {
			return fmt.Errorf("must map to minor units, got %T", value)
		}
		n.Amount = amount
	case TargetSettledAt:
		ts, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("must map to a timestamp, got %T", value)
		}
		n.SettledAt = ts
	default:
		return fmt.Errorf("unknown mapping target %q", target)
	}
	return nil
}

// Lookup walks a dotted path through nested maps.
func Lookup(raw map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = raw
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
