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

// Package normalizer turns raw channel payloads into canonical settlement
// notifications.
package normalizer

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/blnkfinance/repay/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// NormalizationError is a hard rejection of a payload. Retrying the same
// payload will fail the same way.
type NormalizationError struct {
	Channel string
	Field   string
	Reason  string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("invalid %s settlement payload: %s %s", e.Channel, e.Field, e.Reason)
}

// IsNormalizationError reports whether err is, or wraps, a *NormalizationError.
func IsNormalizationError(err error) bool {
	var ne *NormalizationError
	return errors.As(err, &ne)
}

// Normalizer converts one channel's raw payload into a notification.
type Normalizer interface {
	Normalize(raw map[string]interface{}) (model.SettlementNotification, error)
}

// Registry maps channel identifiers to their normalizers.
type Registry struct {
	mu          sync.RWMutex
	normalizers map[string]Normalizer
}

// NewRegistry returns a registry holding the built-in channel tables.
func NewRegistry() *Registry {
	r := &Registry{normalizers: make(map[string]Normalizer)}
	for _, table := range BuiltinTables() {
		r.Register(table.Channel, table)
	}
	return r
}

// Register adds or replaces the normalizer for a channel.
func (r *Registry) Register(channel string, n Normalizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.normalizers[channel] = n
}

// Channels lists the registered channels in sorted order.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	channels := make([]string, 0, len(r.normalizers))
	for c := range r.normalizers {
		channels = append(channels, c)
	}
	sort.Strings(channels)
	return channels
}

// Normalize runs the channel's normalizer and validates the result.
func (r *Registry) Normalize(channel string, raw map[string]interface{}) (model.SettlementNotification, error) {
	r.mu.RLock()
	n, ok := r.normalizers[channel]
	r.mu.RUnlock()
	if !ok {
		return model.SettlementNotification{}, &NormalizationError{Channel: channel, Field: "channel", Reason: "is not a registered settlement channel"}
	}

	notification, err := n.Normalize(raw)
	if err != nil {
		return model.SettlementNotification{}, err
	}
	notification.Channel = channel
	if notification.RawPayload == nil {
		notification.RawPayload = raw
	}
	if err := Validate(notification); err != nil {
		if ne, ok := err.(*NormalizationError); ok {
			ne.Channel = channel
			if table, isTable := n.(*Table); isTable {
				ne.Field = table.sourceFor(ne.Field)
			}
		}
		return model.SettlementNotification{}, err
	}
	return notification, nil
}

// Validate checks the fields every notification needs before it can be
// settled. The returned error names the first offending field.
func Validate(n model.SettlementNotification) error {
	err := validation.ValidateStruct(&n,
		validation.Field(&n.ExternalReference, validation.Required),
		validation.Field(&n.BorrowerID, validation.Required),
		validation.Field(&n.Amount, validation.Required, validation.Min(int64(1))),
		validation.Field(&n.SettledAt, validation.Required),
		validation.Field(&n.ReversesSettlementID, validation.When(n.Channel == ChannelRefund, validation.Required)),
	)
	if err == nil {
		return nil
	}

	var errs validation.Errors
	if !errors.As(err, &errs) {
		return &NormalizationError{Channel: n.Channel, Field: "payload", Reason: err.Error()}
	}
	fields := make([]string, 0, len(errs))
	for field := range errs {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return &NormalizationError{Channel: n.Channel, Field: fields[0], Reason: errs[fields[0]].Error()}
}
