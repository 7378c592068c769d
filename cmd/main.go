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

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blnkfinance/repay"
	"github.com/blnkfinance/repay/config"
	"github.com/blnkfinance/repay/database"
	"github.com/blnkfinance/repay/internal/notification"
	redis_db "github.com/blnkfinance/repay/internal/redis-db"
	"github.com/blnkfinance/repay/internal/search"
)

// Repay represents the CLI application, encapsulating the root Cobra command.
type Repay struct {
	cmd *cobra.Command
}

// repayInstance holds the engine and the connections it was built on, shared
// by every subcommand.
type repayInstance struct {
	repay *repay.Repay
	cnf   *config.Configuration
	queue *repay.Queue
	redis *redis_db.Redis
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the engine before any command runs.
func preRun(app *repayInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf

		// migrations run before the tables the engine reads exist
		if cmd.Name() == "config" || (cmd.Parent() != nil && cmd.Parent().Name() == "migrate") {
			return nil
		}

		if err := setupRepay(app); err != nil {
			notification.NotifyError(err, logrus.Fields{"command": cmd.Name()})
			log.Fatal(err)
		}
		return nil
	}
}

// setupRepay connects the datasource, Redis, the task queue and search, and
// wires them into a new engine.
func setupRepay(app *repayInstance) error {
	cfg := app.cnf
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return fmt.Errorf("error getting datasource: %v", err)
	}

	redisClient, err := redis_db.FromConfig(cfg.Redis)
	if err != nil {
		return fmt.Errorf("error connecting to redis: %v", err)
	}

	queue, err := repay.NewQueue(cfg)
	if err != nil {
		return fmt.Errorf("error creating task queue: %v", err)
	}

	opts := []repay.Option{
		repay.WithQueue(queue),
		repay.WithRedis(redisClient.Client()),
	}
	if cfg.TypeSense.Dns != "" {
		opts = append(opts, repay.WithSearch(search.NewTypesenseClient(cfg.TypeSenseKey, []string{cfg.TypeSense.Dns})))
	}

	newRepay, err := repay.NewRepay(db, opts...)
	if err != nil {
		return fmt.Errorf("error creating repay: %v", err)
	}

	notification.RegisterWebhookSender(func(event string, payload interface{}) error {
		return newRepay.SendWebhook(context.Background(), repay.NewWebhook{Event: event, Payload: payload})
	})

	app.repay = newRepay
	app.queue = queue
	app.redis = redisClient
	return nil
}

// NewCLI creates the command-line interface with the server, workers and
// migrate subcommands.
func NewCLI() *Repay {
	var configFile string
	r := &repayInstance{}

	var rootCmd = &cobra.Command{
		Use:   "repay",
		Short: "Repayment reconciliation and allocation engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./repay.json", "Configuration file for repay")
	rootCmd.PersistentPreRunE = preRun(r, &configFile)

	rootCmd.AddCommand(serverCommands(r))
	rootCmd.AddCommand(workerCommands(r))
	rootCmd.AddCommand(migrateCommands(r))
	rootCmd.AddCommand(configCommands(r))

	return &Repay{cmd: rootCmd}
}

func (w Repay) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
