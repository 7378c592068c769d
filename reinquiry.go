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

package repay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/repay/normalizer"
)

// ScheduleReinquiry asks the channel again for the state of a payment after
// delay. A zero delay uses the configured default.
func (r *Repay) ScheduleReinquiry(ctx context.Context, channel, reference string, delay time.Duration) error {
	if r.queue == nil {
		return ErrQueueNotConfigured
	}
	if _, ok := r.inquirers[channel]; !ok {
		return fmt.Errorf("no inquirer registered for channel %s", channel)
	}
	if delay <= 0 {
		delay = r.settings.ReinquiryDelay()
	}
	return r.queue.EnqueueReinquiry(ctx, ReinquiryTaskPayload{Channel: channel, Reference: reference, Attempt: 1}, delay)
}

// ProcessReinquiry runs one inquiry. A payment the channel still reports as
// pending is asked about again later, up to the configured number of times.
func (r *Repay) ProcessReinquiry(ctx context.Context, payload ReinquiryTaskPayload) (SettlementOutcome, error) {
	ctx, span := tracer.Start(ctx, "ProcessReinquiry")
	defer span.End()

	logger := logrus.WithFields(logrus.Fields{
		"channel":   payload.Channel,
		"reference": payload.Reference,
		"attempt":   payload.Attempt,
	})

	inquirer, ok := r.inquirers[payload.Channel]
	if !ok {
		return SettlementOutcome{}, fmt.Errorf("no inquirer registered for channel %s", payload.Channel)
	}

	if existing, err := r.datasource.GetSettlementByReference(ctx, payload.Channel, payload.Reference); err == nil && existing.IsTerminal() {
		logger.Info("settlement already final, skipping inquiry")
		return SettlementOutcome{Status: OutcomeAlreadyProcessed, SettlementID: existing.SettlementID}, nil
	}

	raw, err := inquirer.Inquire(ctx, payload.Reference)
	if errors.Is(err, ErrInquiryPending) {
		if payload.Attempt >= r.settings.MaxReinquiries {
			logger.Warn("payment still pending after the last inquiry")
			return SettlementOutcome{}, err
		}
		if r.queue == nil {
			return SettlementOutcome{}, ErrQueueNotConfigured
		}
		next := payload
		next.Attempt++
		if err := r.queue.EnqueueReinquiry(ctx, next, r.settings.ReinquiryDelay()); err != nil {
			return SettlementOutcome{}, err
		}
		logger.Info("payment still pending, inquiry rescheduled")
		return SettlementOutcome{}, ErrInquiryPending
	}
	if err != nil {
		return SettlementOutcome{}, err
	}

	return r.SubmitSettlement(ctx, payload.Channel, raw)
}

// ProcessReinquiryTask is the asynq handler for the reinquiry queue.
func (r *Repay) ProcessReinquiryTask(ctx context.Context, task *asynq.Task) error {
	var payload ReinquiryTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return errors.Join(err, asynq.SkipRetry)
	}

	_, err := r.ProcessReinquiry(ctx, payload)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInquiryPending):
		return nil
	case normalizer.IsNormalizationError(err):
		return errors.Join(err, asynq.SkipRetry)
	}
	return err
}
