package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// PostgresConfig carries the connection settings for the production store.
type PostgresConfig struct {
	DSN            string
	Debug          bool
	PingTimeout    time.Duration
	OtelIdentifier string
}

type persistenceConfig struct {
	debug          bool
	driver         string
	server         string
	pingTimeout    time.Duration
	otelIdentifier string
}

func (c persistenceConfig) GetDebug() bool {
	return c.debug
}

func (c persistenceConfig) GetDriver() string {
	return c.driver
}

func (c persistenceConfig) GetServer() string {
	return c.server
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	if c.pingTimeout > 0 {
		return c.pingTimeout
	}
	return 5 * time.Second
}

func (c persistenceConfig) GetOtelIdentifier() string {
	if strings.TrimSpace(c.otelIdentifier) != "" {
		return c.otelIdentifier
	}
	return "go-reportflow"
}

// NewPostgresClient opens the production postgres connection through lib/pq
// and wraps it in a persistence client. Migration registration stays with
// the caller, which owns the embedded migration tree.
func NewPostgresClient(cfg PostgresConfig) (*persistence.Client, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("sqlstore: postgres dsn is required")
	}
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open postgres connection: %w", err)
	}
	client, err := persistence.New(persistenceConfig{
		debug:          cfg.Debug,
		driver:         "postgres",
		server:         dsn,
		pingTimeout:    cfg.PingTimeout,
		otelIdentifier: cfg.OtelIdentifier,
	}, sqlDB, pgdialect.New())
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}
	return client, nil
}
