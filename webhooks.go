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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/repay/config"
	"github.com/blnkfinance/repay/internal/request"
)

// NewWebhook represents the structure of a webhook notification.
// It includes an event type and associated payload data.
type NewWebhook struct {
	Event      string      `json:"event"` // The event type that triggered the webhook.
	Payload    interface{} `json:"data"`  // The data associated with the event.
	OccurredAt time.Time   `json:"occurred_at"`
}

// processHTTP sends a webhook notification via HTTP POST request. Transport
// errors and 5xx answers are retried with exponential backoff; a 4xx answer
// is final.
//
// Parameters:
// - ctx context.Context: Bounds the delivery including retries.
// - hook config.WebhookConfig: The target URL and headers.
// - data NewWebhook: The webhook notification data to send.
//
// Returns:
// - error: An error if the request or processing fails.
func processHTTP(ctx context.Context, hook config.WebhookConfig, data NewWebhook) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.Url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		for key, value := range hook.Headers {
			req.Header.Set(key, value)
		}

		_, err = request.Call(req, nil)
		var statusErr *request.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx)); err != nil {
		logrus.WithError(err).WithField("event", data.Event).Error("webhook delivery failed")
		return err
	}
	logrus.WithField("event", data.Event).Info("webhook notification sent")
	return nil
}

// SendWebhook enqueues a webhook notification task. It is a no-op when no
// webhook URL is configured.
func (r *Repay) SendWebhook(ctx context.Context, hook NewWebhook) error {
	if r.webhook.Url == "" {
		return nil
	}
	if r.queue == nil {
		return ErrQueueNotConfigured
	}
	if hook.OccurredAt.IsZero() {
		hook.OccurredAt = time.Now().UTC()
	}
	return r.queue.EnqueueWebhook(ctx, hook)
}

// ProcessWebhook processes a webhook notification task from the queue.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - task *asynq.Task: The task containing the webhook notification data.
//
// Returns:
// - error: An error if the webhook processing fails.
func (r *Repay) ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	if r.webhook.Url == "" {
		return nil
	}
	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.WithError(err).Error("error unmarshaling webhook task payload")
		return errors.Join(err, asynq.SkipRetry)
	}
	logrus.WithField("event", payload.Event).Debug("processing webhook")
	return processHTTP(ctx, r.webhook, payload)
}
