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

/*
Package main provides the CLI commands for managing database migrations.
This includes commands for applying and rolling back migrations.
*/

package main

import (
	"fmt"
	"log"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"

	"github.com/blnkfinance/repay"
	"github.com/blnkfinance/repay/database"
)

// migrateCommands creates the root command for migration-related operations.
func migrateCommands(r *repayInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "run repay database migrations",
	}

	cmd.AddCommand(migrationCommand(r, "up", migrate.Up))
	cmd.AddCommand(migrationCommand(r, "down", migrate.Down))

	return cmd
}

// migrationCommand applies or rolls back the embedded migrations in the
// repay schema.
func migrationCommand(r *repayInstance, use string, direction migrate.MigrationDirection) *cobra.Command {
	return &cobra.Command{
		Use: use,
		Run: func(cmd *cobra.Command, args []string) {
			migrations := migrate.EmbedFileSystemMigrationSource{
				FileSystem: repay.SQLFiles,
				Root:       "sql",
			}

			db, err := database.ConnectDB(r.cnf.DataSource)
			if err != nil {
				log.Printf("Error connecting to database: %v", err)
				return
			}
			defer db.Close()

			// the migrations table lives in the schema it versions
			if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS repay"); err != nil {
				log.Printf("Error creating schema: %v", err)
				return
			}
			migrate.SetSchema("repay")

			n, err := migrate.Exec(db, "postgres", migrations, direction)
			if err != nil {
				log.Printf("Error migrating %s: %v", use, err)
				return
			}
			fmt.Printf("Migrated %s %d migrations!\n", use, n)
		},
	}
}
