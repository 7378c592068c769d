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
	"hash/fnv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/repay/config"
	redis_db "github.com/blnkfinance/repay/internal/redis-db"
	"github.com/blnkfinance/repay/model"
)

// Queue represents a queue for handling various tasks.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	cfg       config.QueueConfig
}

// IndexTaskPayload is the body of a search index task.
type IndexTaskPayload struct {
	Collection string                 `json:"collection"`
	Payload    map[string]interface{} `json:"payload"`
}

// ReinquiryTaskPayload is the body of a delayed channel status inquiry.
type ReinquiryTaskPayload struct {
	Channel   string `json:"channel"`
	Reference string `json:"reference"`
	Attempt   int    `json:"attempt"`
}

// NewQueue initializes a new Queue instance with the provided configuration.
//
// Parameters:
// - conf *config.Configuration: The configuration for the queue.
//
// Returns:
// - *Queue: A pointer to the newly created Queue instance.
// - error: An error if the Redis address cannot be parsed.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	queueOptions, err := redis_db.QueueOptions(conf.Redis)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis url: %w", err)
	}
	return &Queue{
		Client:    asynq.NewClient(queueOptions),
		Inspector: asynq.NewInspector(queueOptions),
		cfg:       conf.Queue,
	}, nil
}

// Close releases the client and inspector connections.
func (q *Queue) Close() error {
	return errors.Join(q.Client.Close(), q.Inspector.Close())
}

// SchedulePostCommit enqueues a committed event for fan-out to webhooks and
// the search index.
func (q *Queue) SchedulePostCommit(ctx context.Context, event model.PostCommitEvent) error {
	ctx, span := tracer.Start(ctx, "Adding Post-Commit Event To Redis Queue")
	defer span.End()

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	task := asynq.NewTask(q.cfg.EventQueue, payload, asynq.Queue(q.cfg.EventQueue), asynq.MaxRetry(q.cfg.MaxRetryAttempts))
	if _, err := q.Client.EnqueueContext(ctx, task); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"event": event.Event, "settlement_id": event.SettlementID}).Debug("enqueued post-commit event")
	return nil
}

// EnqueueWebhook enqueues delivery of one event to the configured webhook URL.
func (q *Queue) EnqueueWebhook(ctx context.Context, hook NewWebhook) error {
	payload, err := json.Marshal(hook)
	if err != nil {
		return err
	}
	task := asynq.NewTask(q.cfg.WebhookQueue, payload, asynq.Queue(q.cfg.WebhookQueue), asynq.MaxRetry(q.cfg.MaxRetryAttempts))
	_, err = q.Client.EnqueueContext(ctx, task)
	return err
}

// EnqueueIndex enqueues a document upsert into a search collection.
func (q *Queue) EnqueueIndex(ctx context.Context, collection string, data map[string]interface{}) error {
	payload, err := json.Marshal(IndexTaskPayload{Collection: collection, Payload: data})
	if err != nil {
		return err
	}
	task := asynq.NewTask(q.cfg.IndexQueue, payload, asynq.Queue(q.cfg.IndexQueue))
	_, err = q.Client.EnqueueContext(ctx, task)
	return err
}

// EnqueueReinquiry schedules a status inquiry for a channel reference. The
// task id includes the attempt so a reschedule never collides with the task
// that is running it.
func (q *Queue) EnqueueReinquiry(ctx context.Context, payload ReinquiryTaskPayload, delay time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	taskID := fmt.Sprintf("reinquiry:%s:%d", model.SettlementKey(payload.Channel, payload.Reference), payload.Attempt)
	task := asynq.NewTask(q.cfg.ReinquiryQueue, body,
		asynq.Queue(q.cfg.ReinquiryQueue),
		asynq.TaskID(taskID),
		asynq.ProcessIn(delay),
	)
	_, err = q.Client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// EnqueueSettlement hands a normalized notification to the settlement
// workers. Notifications of one borrower always land on the same queue, and
// the task id is the channel reference so a duplicate delivery is dropped
// while the first one is still queued.
func (q *Queue) EnqueueSettlement(ctx context.Context, n model.SettlementNotification) error {
	ctx, span := tracer.Start(ctx, "Adding Settlement To Redis Queue")
	defer span.End()

	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = q.Client.EnqueueContext(ctx, q.settlementTask(n, payload), asynq.MaxRetry(q.cfg.MaxRetryAttempts))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		logrus.WithField("reference", n.ExternalReference).Info("settlement already queued")
		return nil
	}
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"channel": n.Channel, "reference": n.ExternalReference}).Info("enqueued settlement")
	return nil
}

// settlementTask assigns the notification to one of the settlement queues by
// hashing the borrower id.
func (q *Queue) settlementTask(n model.SettlementNotification, payload []byte) *asynq.Task {
	queueName := SettlementQueueName(q.cfg, n.BorrowerID)
	return asynq.NewTask(queueName, payload,
		asynq.TaskID(model.SettlementKey(n.Channel, n.ExternalReference)),
		asynq.Queue(queueName),
	)
}

// SettlementQueueName returns the settlement queue a borrower is pinned to.
func SettlementQueueName(cfg config.QueueConfig, borrowerID string) string {
	queueIndex := hashBorrowerID(borrowerID) % cfg.NumberOfQueues
	return fmt.Sprintf("%s_%d", cfg.SettlementQueue, queueIndex+1)
}

// hashBorrowerID returns a consistent hash value for a borrower id.
func hashBorrowerID(borrowerID string) int {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(borrowerID))
	return int(hasher.Sum32())
}

// QueueWeights returns the priority of every queue the worker server reads.
func QueueWeights(cfg config.QueueConfig) map[string]int {
	weights := map[string]int{
		cfg.EventQueue:     3,
		cfg.WebhookQueue:   1,
		cfg.IndexQueue:     1,
		cfg.ReinquiryQueue: 2,
	}
	for i := 1; i <= cfg.NumberOfQueues; i++ {
		weights[fmt.Sprintf("%s_%d", cfg.SettlementQueue, i)] = 5
	}
	return weights
}

// GetQueuedSettlement looks up a settlement notification still waiting on one
// of the settlement queues. It returns nil when none is queued.
func (q *Queue) GetQueuedSettlement(channel, reference string) (*model.SettlementNotification, error) {
	taskID := model.SettlementKey(channel, reference)
	for i := 1; i <= q.cfg.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", q.cfg.SettlementQueue, i)
		task, err := q.Inspector.GetTaskInfo(queueName, taskID)
		if err == nil && task != nil {
			var n model.SettlementNotification
			if err := json.Unmarshal(task.Payload, &n); err != nil {
				return nil, err
			}
			return &n, nil
		}
	}
	return nil, nil
}
