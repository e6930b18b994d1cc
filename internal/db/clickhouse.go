package db

import (
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/webhook-gateway/internal/config"
)

// NewClickHouseConnection opens the reporting replica of the delivery audit log.
// DSN e.g. clickhouse://default:@localhost:9000/hookgw?dial_timeout=5s&compress=true
func NewClickHouseConnection(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	return open("clickhouse", cfg, 3*time.Second)
}
