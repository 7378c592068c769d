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

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"

	"github.com/blnkfinance/repay"
	"github.com/blnkfinance/repay/config"
	redis_db "github.com/blnkfinance/repay/internal/redis-db"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

func initializeWorkerServer(conf *config.Configuration) (*asynq.Server, error) {
	redisOption, err := redis_db.QueueOptions(conf.Redis)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	concurrency := conf.Queue.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return asynq.NewServer(
		redisOption,
		asynq.Config{
			Concurrency: concurrency,
			Queues:      repay.QueueWeights(conf.Queue),
			Logger:      logrus.StandardLogger(),
		},
	), nil
}

// workerCommands defines the "workers" command. Workers drain the settlement,
// event, webhook, index and reinquiry queues and run the recovery sweeper.
func workerCommands(r *repayInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start repay workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			conf := r.cnf

			phClient, shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()
			if phClient != nil {
				defer phClient.Close()
			}

			srv, err := initializeWorkerServer(conf)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			r.repay.RegisterTaskHandlers(mux, conf.Queue)

			recovery := repay.NewSettlementRecoveryProcessor(r.repay)
			recovery.Start(ctx)
			defer recovery.Stop()

			if err := srv.Start(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
			logrus.WithField("queues", len(repay.QueueWeights(conf.Queue))).Info("workers started")

			<-ctx.Done()
			srv.Shutdown()
			if err := r.queue.Close(); err != nil {
				logrus.WithError(err).Warn("failed to close task queue")
			}
			if err := r.redis.Close(); err != nil {
				logrus.WithError(err).Warn("failed to close redis")
			}
		},
	}

	return cmd
}
