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
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	redlock "github.com/blnkfinance/repay/internal/lock"
	"github.com/blnkfinance/repay/internal/notification"
	"github.com/blnkfinance/repay/model"
)

const recoveryLockKey = "repay:settlement-recovery"

// minRecoveryThreshold keeps a manual sweep away from settlements that are
// probably still being processed.
const minRecoveryThreshold = 30 * time.Second

// RecoveryResult summarizes one sweep.
type RecoveryResult struct {
	Found     int  `json:"found"`
	Recovered int  `json:"recovered"`
	Failed    int  `json:"failed"`
	Exhausted int  `json:"exhausted"`
	Skipped   bool `json:"skipped"`
}

type SettlementRecoveryProcessor struct {
	repay               *Repay
	batchSize           int
	maxWorkers          int
	pollInterval        time.Duration
	stuckThreshold      time.Duration
	maxRecoveryAttempts int
	lockTTL             time.Duration
	stopCh              chan struct{}
	wg                  sync.WaitGroup
	running             bool
	mu                  sync.Mutex
}

func NewSettlementRecoveryProcessor(r *Repay) *SettlementRecoveryProcessor {
	p := &SettlementRecoveryProcessor{
		repay:               r,
		batchSize:           r.settings.RecoveryBatchSize,
		maxWorkers:          r.settings.MaxRecoveryWorkers,
		pollInterval:        r.settings.RecoveryInterval(),
		stuckThreshold:      r.settings.StuckThreshold(),
		maxRecoveryAttempts: r.settings.MaxRecoveryAttempts,
		lockTTL:             r.settings.RecoveryLockTTL(),
		stopCh:              make(chan struct{}),
	}
	if p.maxWorkers <= 0 {
		p.maxWorkers = 1
	}
	if p.pollInterval <= 0 {
		p.pollInterval = time.Minute
	}
	if p.lockTTL <= 0 {
		p.lockTTL = 5 * time.Minute
	}
	return p
}

func (p *SettlementRecoveryProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.Info("Settlement recovery processor started")
}

func (p *SettlementRecoveryProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("Settlement recovery processor stopped")
}

func (p *SettlementRecoveryProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SettlementRecoveryProcessor) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Settlement recovery processor context cancelled")
			return
		case <-p.stopCh:
			logrus.Info("Settlement recovery processor stop signal received")
			return
		case <-ticker.C:
			if _, err := p.sweep(ctx, p.stuckThreshold); err != nil {
				logrus.WithError(err).Error("settlement recovery sweep failed")
			}
		}
	}
}

// RecoverPendingSettlements runs one sweep now. It backs the manual trigger
// endpoint.
func (r *Repay) RecoverPendingSettlements(ctx context.Context, threshold time.Duration) (RecoveryResult, error) {
	if threshold < minRecoveryThreshold {
		threshold = minRecoveryThreshold
	}
	return NewSettlementRecoveryProcessor(r).sweep(ctx, threshold)
}

// sweep recovers one batch. With Redis configured only one node sweeps at a
// time; the others report the sweep as skipped.
func (p *SettlementRecoveryProcessor) sweep(ctx context.Context, threshold time.Duration) (RecoveryResult, error) {
	if p.repay.redis == nil {
		return p.recoverWithThreshold(ctx, threshold)
	}

	host, _ := os.Hostname()
	locker := redlock.NewLocker(p.repay.redis, recoveryLockKey, fmt.Sprintf("%s:%s", host, model.GenerateUUIDWithSuffix("sweep")))

	var result RecoveryResult
	ran, err := locker.RunExclusive(ctx, p.lockTTL, func(ctx context.Context) error {
		var err error
		result, err = p.recoverWithThreshold(ctx, threshold)
		return err
	})
	if err != nil {
		return result, err
	}
	if !ran {
		logrus.Debug("settlement recovery already running on another node")
		return RecoveryResult{Skipped: true}, nil
	}
	return result, nil
}

func (p *SettlementRecoveryProcessor) recoverWithThreshold(ctx context.Context, threshold time.Duration) (RecoveryResult, error) {
	var result RecoveryResult

	stuck, err := p.repay.datasource.GetStuckSettlements(ctx, time.Now().UTC().Add(-threshold), p.batchSize)
	if err != nil {
		return result, err
	}
	result.Found = len(stuck)
	if len(stuck) == 0 {
		return result, nil
	}

	logrus.Infof("Processing %d pending settlements with %d workers (threshold=%v)", len(stuck), p.maxWorkers, threshold)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxWorkers)
	for _, stl := range stuck {
		stl := stl
		g.Go(func() error {
			status := p.recoverSettlement(gctx, stl)
			mu.Lock()
			defer mu.Unlock()
			switch status {
			case recoveryRecovered:
				result.Recovered++
			case recoveryFailed:
				result.Failed++
			case recoveryExhausted:
				result.Exhausted++
			}
			return nil
		})
	}
	_ = g.Wait()
	return result, nil
}

type recoveryStatus int

const (
	recoveryRecovered recoveryStatus = iota
	recoveryFailed
	recoveryExhausted
)

// recoverSettlement replays one pending settlement. A settlement that has
// used up its attempts is never processed automatically: operators are
// alerted once and the row stays pending.
func (p *SettlementRecoveryProcessor) recoverSettlement(ctx context.Context, stl *model.SettlementTransaction) recoveryStatus {
	fields := logrus.Fields{
		"settlement_id": stl.SettlementID,
		"channel":       stl.Channel,
		"reference":     stl.ExternalReference,
		"attempts":      stl.Attempts,
	}

	if stl.Attempts >= p.maxRecoveryAttempts {
		if stl.Attempts == p.maxRecoveryAttempts {
			notification.NotifyError(fmt.Errorf("settlement %s exhausted %d recovery attempts: %s", stl.SettlementID, stl.Attempts, stl.LastError), fields)
			if err := p.repay.datasource.RecordSettlementAttempt(ctx, stl.SettlementID, stl.LastError); err != nil {
				logrus.WithFields(fields).WithError(err).Error("failed to record exhausted settlement")
			}
		}
		return recoveryExhausted
	}

	var (
		outcome SettlementOutcome
		err     error
	)
	if stl.ReversesSettlementID != "" {
		outcome, err = p.repay.ReverseSettlement(ctx, stl.ReversesSettlementID, stl.ExternalReference)
	} else {
		outcome, err = p.repay.ProcessNotification(ctx, stl.Notification)
	}
	if err != nil {
		logrus.WithFields(fields).WithError(err).Warn("failed to recover pending settlement")
		return recoveryFailed
	}

	logrus.WithFields(fields).WithField("outcome", outcome.Status).Info("recovered pending settlement")
	return recoveryRecovered
}
