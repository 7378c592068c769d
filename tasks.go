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
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/repay/allocation"
	"github.com/blnkfinance/repay/config"
	"github.com/blnkfinance/repay/internal/search"
	"github.com/blnkfinance/repay/model"
)

// RegisterTaskHandlers wires every queue the worker server reads to its handler.
func (r *Repay) RegisterTaskHandlers(mux *asynq.ServeMux, cfg config.QueueConfig) {
	for i := 1; i <= cfg.NumberOfQueues; i++ {
		mux.HandleFunc(fmt.Sprintf("%s_%d", cfg.SettlementQueue, i), r.ProcessSettlementTask)
	}
	mux.HandleFunc(cfg.EventQueue, r.ProcessEventTask)
	mux.HandleFunc(cfg.WebhookQueue, r.ProcessWebhook)
	mux.HandleFunc(cfg.IndexQueue, r.ProcessIndexTask)
	mux.HandleFunc(cfg.ReinquiryQueue, r.ProcessReinquiryTask)
}

// ProcessSettlementTask settles a queued notification. Invariant violations
// and rejected refunds are not retried by the queue.
func (r *Repay) ProcessSettlementTask(ctx context.Context, task *asynq.Task) error {
	var n model.SettlementNotification
	if err := json.Unmarshal(task.Payload(), &n); err != nil {
		return errors.Join(err, asynq.SkipRetry)
	}

	outcome, err := r.ProcessNotification(ctx, n)
	if err != nil {
		var invariant *allocation.InvariantViolation
		if errors.As(err, &invariant) {
			return errors.Join(err, asynq.SkipRetry)
		}
		// A refund that does not match its settlement fails the same way
		// on every attempt.
		if status := HTTPStatus(err); status == http.StatusBadRequest || status == http.StatusConflict {
			return errors.Join(err, asynq.SkipRetry)
		}
		return err
	}
	logrus.WithFields(logrus.Fields{
		"settlement_id": outcome.SettlementID,
		"outcome":       outcome.Status,
	}).Debug("queued settlement handled")
	return nil
}

// ProcessEventTask fans a committed event out to the webhook queue and, for
// events that end a settlement, to the search index.
func (r *Repay) ProcessEventTask(ctx context.Context, task *asynq.Task) error {
	var event model.PostCommitEvent
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		return errors.Join(err, asynq.SkipRetry)
	}

	if err := r.SendWebhook(ctx, NewWebhook{Event: event.Event, Payload: event, OccurredAt: event.OccurredAt}); err != nil {
		return fmt.Errorf("failed to enqueue webhook for %s: %w", event.Event, err)
	}

	switch event.Event {
	case model.EventSettlementProcessed, model.EventSettlementRejected, model.EventSettlementReversed:
		return r.indexSettlement(ctx, event.SettlementID)
	}
	return nil
}

// indexSettlement queues the settlement, its ledger entries and the
// borrower's obligations for indexing. Nothing happens without a queue.
func (r *Repay) indexSettlement(ctx context.Context, settlementID string) error {
	if r.queue == nil {
		return nil
	}

	stl, err := r.datasource.GetSettlement(ctx, settlementID)
	if err != nil {
		return err
	}
	if err := r.queue.EnqueueIndex(ctx, search.CollectionSettlements, search.SettlementDocument(stl)); err != nil {
		return err
	}

	entries, err := r.datasource.GetLedgerEntries(ctx, settlementID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := r.queue.EnqueueIndex(ctx, search.CollectionLedgerEntries, search.LedgerEntryDocument(e)); err != nil {
			return err
		}
	}

	obligations, err := r.datasource.GetObligationsByBorrower(ctx, stl.BorrowerID)
	if err != nil {
		return err
	}
	for _, o := range obligations {
		if err := r.queue.EnqueueIndex(ctx, search.CollectionObligations, search.ObligationDocument(o)); err != nil {
			return err
		}
	}
	return nil
}

// ProcessIndexTask upserts one document into Typesense.
func (r *Repay) ProcessIndexTask(ctx context.Context, task *asynq.Task) error {
	if r.search == nil {
		return nil
	}
	var payload IndexTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return errors.Join(err, asynq.SkipRetry)
	}
	if !search.IsCollection(payload.Collection) {
		return errors.Join(fmt.Errorf("unknown collection %q", payload.Collection), asynq.SkipRetry)
	}
	return r.search.HandleNotification(ctx, payload.Collection, payload.Payload)
}
