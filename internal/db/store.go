/**
 * @description
 * Store: scoped access to the goods_prices / incomes database.
 * Every call opens its own single-connection handle and releases it on every
 * exit path; connections are never pooled or shared between calls.
 *
 * @dependencies
 * - gorm.io/gorm
 * - backend/internal/config
 *
 * @notes
 * - Concurrent writers serialize on the engine's own locks. The wait is
 *   bounded by DBConfig.LockTimeout, after which the call fails with a
 *   storage error. Nothing here retries.
 */

package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/value-voyage/backend/internal/apperr"
	"github.com/value-voyage/backend/internal/config"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Store owns the persisted relations. It holds configuration only.
type Store struct {
	cfg config.DBConfig
}

// NewStore creates a Store for the given database configuration.
func NewStore(cfg config.DBConfig) *Store {
	return &Store{cfg: cfg}
}

// Driver returns the configured engine name.
func (s *Store) Driver() string {
	return s.cfg.Driver
}

// Conn is a scoped database handle. Close must be called exactly once.
type Conn struct {
	DB    *gorm.DB
	sqlDB *sql.DB
}

// Close releases the underlying connection.
func (c *Conn) Close() error {
	return c.sqlDB.Close()
}

// Open acquires a fresh connection. Callers should prefer WithConn / WithTx,
// which guarantee release.
func (s *Store) Open(ctx context.Context) (*Conn, error) {
	var (
		dialector gorm.Dialector
		err       error
	)
	switch s.cfg.Driver {
	case config.DriverSQLite:
		dialector, err = sqliteDialector(s.cfg)
	case config.DriverPostgres:
		dialector = postgresDialector(s.cfg)
	default:
		err = fmt.Errorf("unsupported driver %q", s.cfg.Driver)
	}
	if err != nil {
		return nil, apperr.Storage("open", err)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLogger.Default.LogMode(gormLogLevel(s.cfg.Env)),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, Classify("open", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, apperr.Storage("open", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	conn := &Conn{DB: gdb.WithContext(ctx), sqlDB: sqlDB}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, Classify("ping", err)
	}
	if s.cfg.Driver == config.DriverPostgres {
		// SET does not take bind parameters.
		stmt := fmt.Sprintf("SET lock_timeout = %d", s.cfg.LockTimeout.Milliseconds())
		if err := conn.DB.Exec(stmt).Error; err != nil {
			_ = conn.Close()
			return nil, Classify("set lock_timeout", err)
		}
	}
	return conn, nil
}

// WithConn runs fn with a freshly opened connection and closes it afterwards,
// whether fn returns normally, fails or panics.
func (s *Store) WithConn(ctx context.Context, fn func(db *gorm.DB) error) (err error) {
	conn, err := s.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil && err == nil {
			err = apperr.Storage("close", cerr)
		}
	}()
	return fn(conn.DB)
}

// WithTx runs fn inside a single transaction on a scoped connection.
// The transaction commits only if fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.WithConn(ctx, func(db *gorm.DB) error {
		return Classify("transaction", db.Transaction(fn))
	})
}

func gormLogLevel(env string) gormLogger.LogLevel {
	switch env {
	case "development":
		return gormLogger.Info
	case "staging":
		return gormLogger.Warn
	default:
		return gormLogger.Error
	}
}
