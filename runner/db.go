package runner

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
	"github.com/samber/lo"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"
	"github.com/rudderlabs/rudder-go-kit/stats/collectors"
	obskit "github.com/rudderlabs/rudder-observability-kit/go/labels"

	migrator "github.com/Informasjonsforvaltning/fdk-resource-service/services/sql-migrator"
)

const (
	migrationsDir   = "resource_service"
	migrationsTable = "migrations_resource_service"
)

// connectionString builds the postgres DSN from the DB.* keys
func connectionString(conf *config.Config) string {
	var (
		host          = conf.GetStringVar("localhost", "DB.host")
		user          = conf.GetStringVar("postgres", "DB.user")
		dbname        = conf.GetStringVar("fdk", "DB.name")
		port          = conf.GetIntVar(5432, 1, "DB.port")
		password      = conf.GetStringVar("postgres", "DB.password")
		sslmode       = conf.GetStringVar("disable", "DB.sslMode")
		idleTxTimeout = conf.GetDurationVar(5, time.Minute, "DB.idleTxTimeout")
	)
	hostname, err := os.Hostname()
	if err != nil {
		hostname = serviceName
	}
	// application_name must stay below NAMEDATALEN
	appName := lo.Substring(hostname, 0, 60)

	return fmt.Sprintf("host=%s port=%d user=%s "+
		"password=%s dbname=%s sslmode=%s application_name=%s "+
		" options='-c idle_in_transaction_session_timeout=%d'",
		host, port, user, password, dbname, sslmode, appName,
		idleTxTimeout.Milliseconds(),
	)
}

func openDatabase(ctx context.Context, conf *config.Config, statsFactory stats.Stats) (*sql.DB, error) {
	db, err := sql.Open("postgres", connectionString(conf))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(conf.GetInt("DB.maxOpenConns", 20))
	db.SetMaxIdleConns(conf.GetInt("DB.maxIdleConns", 5))
	db.SetConnMaxIdleTime(conf.GetDuration("DB.connMaxIdleTime", 5, time.Minute))

	pingCtx, cancel := context.WithTimeout(ctx, conf.GetDuration("DB.pingTimeout", 10, time.Second))
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := statsFactory.RegisterCollector(collectors.NewDatabaseSQLStats(serviceName, db)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("registering database stats collector: %w", err)
	}
	return db, nil
}

func migrate(db *sql.DB, log logger.Logger) error {
	m := &migrator.Migrator{
		Handle:          db,
		MigrationsTable: migrationsTable,
	}

	operation := func() error {
		return m.Migrate(migrationsDir)
	}
	backoffWithMaxRetry := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)

	err := backoff.RetryNotify(operation, backoffWithMaxRetry, func(err error, t time.Duration) {
		log.Warnn("Retrying database migration",
			logger.NewDurationField("in", t),
			obskit.Error(err),
		)
	})
	if err != nil {
		return fmt.Errorf("could not migrate: %w", err)
	}
	return nil
}
