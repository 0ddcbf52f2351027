package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/esimpay/internal/config"
	"github.com/example/esimpay/internal/models"
)

var db *gorm.DB

// pendingSweepIndex backs ListPendingSince, which only ever reads PENDING rows.
const pendingSweepIndex = `CREATE INDEX IF NOT EXISTS idx_payments_pending_created
	ON payments (created_at) WHERE status = 'PENDING'`

// Connect opens the payments database, creating it first when the server
// allows, sizes the pool and migrates the schema. Failures are fatal.
func Connect(dsn string, pool config.DBPoolConfig) *gorm.DB {
	if db != nil {
		return db
	}

	ctx, cancel := context.WithTimeout(context.Background(), pool.BootTimeout)
	defer cancel()

	if err := ensureDatabase(ctx, dsn); err != nil {
		log.Fatalf("[DB] ensure database: %v", err)
	}

	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatalf("[DB] connect: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		log.Fatalf("[DB] pool: %v", err)
	}
	if pool.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpen)
	}
	if pool.MaxIdle > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdle)
	}
	if pool.MaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.MaxLifetime)
	}

	if err := migrate(conn.WithContext(ctx)); err != nil {
		log.Fatalf("[DB] migrate: %v", err)
	}

	log.Printf("[DB] connected, pool max_open=%d max_idle=%d", pool.MaxOpen, pool.MaxIdle)
	db = conn
	return db
}

// Close releases the pooled connections opened by Connect.
func Close() {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	db = nil
}

func migrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(
		&models.Operator{},
		&models.Payment{},
		&models.PaymentGatewayEvent{},
	); err != nil {
		return err
	}
	if err := conn.Exec(pendingSweepIndex).Error; err != nil {
		return fmt.Errorf("pending sweep index: %w", err)
	}
	return nil
}

// ensureDatabase connects to the maintenance database of a URL-style DSN and
// creates the target database when it does not exist yet. Keyword DSNs are
// left to the server.
func ensureDatabase(ctx context.Context, dsn string) error {
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return err
	}

	name := strings.TrimPrefix(parsed.Path, "/")
	if name == "" || name == "postgres" {
		return nil
	}
	parsed.Path = "/postgres"

	admin, err := sql.Open("postgres", parsed.String())
	if err != nil {
		return err
	}
	defer admin.Close()

	var exists bool
	err = admin.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	log.Printf("[DB] creating database %s", name)
	_, err = admin.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name))
	return err
}
