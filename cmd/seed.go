package cmd

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/jmehdipour/webhook-gateway/internal/config"
	"github.com/jmehdipour/webhook-gateway/internal/db"
	"github.com/jmehdipour/webhook-gateway/internal/model"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo subscriptions and invoices",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		// 2) connect MySQL
		sqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo subscriptions...")
		if err := seedSubscriptions(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seeding demo invoices...")
		if err := seedInvoices(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed")
		return nil
	},
}

// seedSubscriptions inserts deterministic demo endpoints (idempotent on url).
func seedSubscriptions(dbx *sqlx.DB) error {
	subs := []model.Subscription{
		{
			URL:      "http://127.0.0.1:9090/hooks/all",
			Events:   model.EventSet{model.WildcardEvent},
			IsActive: true,
		},
		{
			URL:      "http://127.0.0.1:9090/hooks/billing",
			Secret:   strptr("demo-billing-secret"),
			Events:   model.EventSet{"invoice.paid", "invoice.payment_failed"},
			IsActive: true,
		},
		{
			URL:      "http://127.0.0.1:9090/hooks/git",
			Secret:   strptr("demo-git-secret"),
			Events:   model.EventSet{"git.push", "git.pull_request"},
			IsActive: true,
		},
		{
			URL:      "http://127.0.0.1:9090/hooks/disabled",
			Events:   model.EventSet{model.WildcardEvent},
			IsActive: false,
		},
	}

	const q = `
INSERT INTO outgoing_webhooks (url, secret, events, is_active)
SELECT ?, ?, ?, ?
FROM DUAL
WHERE NOT EXISTS (SELECT 1 FROM outgoing_webhooks WHERE url = ?)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, s := range subs {
		if _, err := tx.Exec(q, s.URL, s.Secret, s.Events, s.IsActive, s.URL); err != nil {
			return fmt.Errorf("insert subscription %q: %w", s.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit subscriptions: %w", err)
	}
	return nil
}

func seedInvoices(dbx *sqlx.DB) error {
	const q = `
INSERT INTO invoices (id, status)
VALUES (?, ?)
ON DUPLICATE KEY UPDATE
    status = VALUES(status),
    paid_at = NULL
`
	invoices := map[string]model.InvoiceStatus{
		"inv-demo-1": model.InvoiceStatusSent,
		"inv-demo-2": model.InvoiceStatusSent,
		"inv-demo-3": model.InvoiceStatusVoid,
	}
	for id, st := range invoices {
		if _, err := dbx.Exec(q, id, st); err != nil {
			return fmt.Errorf("insert invoice %s: %w", id, err)
		}
	}
	return nil
}

func strptr(s string) *string { return &s }
