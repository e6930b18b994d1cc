package cmd

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/jmehdipour/webhook-gateway/internal/config"
	"github.com/jmehdipour/webhook-gateway/internal/db"
	"github.com/jmehdipour/webhook-gateway/migrations"
)

var withClickHouse bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create database tables (idempotent)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer sqlDB.Close()

		stmts, err := migrations.MySQL()
		if err != nil {
			return fmt.Errorf("load mysql migrations: %w", err)
		}
		if err := apply(sqlDB, stmts); err != nil {
			return fmt.Errorf("mysql: %w", err)
		}
		fmt.Printf(">> MySQL migration complete (%d statements)\n", len(stmts))

		if !withClickHouse {
			return nil
		}

		chDB, err := db.NewClickHouseConnection(cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer chDB.Close()

		stmts, err = migrations.ClickHouse()
		if err != nil {
			return fmt.Errorf("load clickhouse migrations: %w", err)
		}
		if err := apply(chDB, stmts); err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		fmt.Printf(">> ClickHouse migration complete (%d statements)\n", len(stmts))
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&withClickHouse, "clickhouse", false, "also create the ClickHouse reporting schema")
}

func apply(dbx *sqlx.DB, stmts []string) error {
	for i, stmt := range stmts {
		if _, err := dbx.Exec(stmt); err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	return nil
}
