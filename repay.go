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
	"embed"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/repay/config"
	"github.com/blnkfinance/repay/database"
	"github.com/blnkfinance/repay/internal/cache"
	"github.com/blnkfinance/repay/internal/search"
	"github.com/blnkfinance/repay/model"
	"github.com/blnkfinance/repay/normalizer"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

var tracer = otel.Tracer("repay.settlement")

// Repay is the repayment reconciliation engine. It owns no global state:
// every client it talks to is handed in through options.
type Repay struct {
	datasource    database.IDataSource
	normalizers   *normalizer.Registry
	restructuring RestructuringProvider
	waivers       WaiverProvider
	dispatcher    Dispatcher
	queue         *Queue
	inquirers     map[string]Inquirer
	outcomes      cache.Cache
	redis         redis.UniversalClient
	search        *search.TypesenseClient
	settings      config.SettlementConfig
	webhook       config.WebhookConfig
}

// Option configures a Repay instance.
type Option func(*Repay)

// WithNormalizers replaces the built-in channel registry.
func WithNormalizers(registry *normalizer.Registry) Option {
	return func(r *Repay) { r.normalizers = registry }
}

func WithRestructuringProvider(p RestructuringProvider) Option {
	return func(r *Repay) { r.restructuring = p }
}

func WithWaiverProvider(p WaiverProvider) Option {
	return func(r *Repay) { r.waivers = p }
}

// WithDispatcher sets where post-commit events go. WithQueue sets both the
// dispatcher and the queue used for reinquiry and webhooks.
func WithDispatcher(d Dispatcher) Option {
	return func(r *Repay) { r.dispatcher = d }
}

func WithQueue(q *Queue) Option {
	return func(r *Repay) {
		r.queue = q
		r.dispatcher = q
	}
}

// WithInquirer registers the status inquirer of a channel.
func WithInquirer(channel string, inquirer Inquirer) Option {
	return func(r *Repay) { r.inquirers[channel] = inquirer }
}

// WithOutcomeCache caches terminal settlement outcomes so re-deliveries are
// answered without touching the database.
func WithOutcomeCache(c cache.Cache) Option {
	return func(r *Repay) { r.outcomes = c }
}

// WithRedis enables the cross-node recovery lock.
func WithRedis(client redis.UniversalClient) Option {
	return func(r *Repay) { r.redis = client }
}

func WithSearch(client *search.TypesenseClient) Option {
	return func(r *Repay) { r.search = client }
}

// NewRepay builds the engine on a datasource. Restructuring and waiver
// lookups default to the datasource's own tables.
//
// Parameters:
// - db database.IDataSource: The datasource for all persisted state.
// - opts ...Option: Optional collaborators.
//
// Returns:
// - *Repay: The configured engine.
// - error: An error if the configuration has not been loaded.
func NewRepay(db database.IDataSource, opts ...Option) (*Repay, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	r := &Repay{
		datasource:    db,
		normalizers:   normalizer.NewRegistry(),
		restructuring: db,
		waivers:       db,
		inquirers:     make(map[string]Inquirer),
		settings:      cfg.Settlement,
		webhook:       cfg.Notification.Webhook,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.outcomes == nil && r.redis != nil && !r.settings.DisableOutcomeCache {
		r.outcomes = cache.NewRedisCache(r.redis)
	}
	return r, nil
}

// Datasource exposes the underlying datasource to the API layer.
func (r *Repay) Datasource() database.IDataSource {
	return r.datasource
}

// Channels lists the channels notifications can be submitted on.
func (r *Repay) Channels() []string {
	return r.normalizers.Channels()
}

// dispatch hands committed events to the dispatcher. Failures are logged and
// never change the outcome of the settlement that produced the events.
func (r *Repay) dispatch(ctx context.Context, events []model.PostCommitEvent) {
	for _, event := range events {
		fields := logrus.Fields{"event": event.Event, "settlement_id": event.SettlementID, "borrower_id": event.BorrowerID}
		if r.dispatcher == nil {
			logrus.WithFields(fields).Debug("no dispatcher configured, dropping post-commit event")
			continue
		}
		if err := r.dispatcher.SchedulePostCommit(ctx, event); err != nil {
			logrus.WithFields(fields).WithError(err).Error("failed to dispatch post-commit event")
		}
	}
}
