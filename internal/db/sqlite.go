package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/value-voyage/backend/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	// pure-Go engine registered as "sqlite"
	_ "modernc.org/sqlite"
)

// sqliteDSN enables WAL and a bounded busy wait. _txlock=immediate makes a
// writer take the RESERVED lock at BEGIN, so contention is resolved by
// busy_timeout instead of failing on the first write inside the transaction.
func sqliteDSN(cfg config.DBConfig) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate",
		cfg.Path, cfg.LockTimeout.Milliseconds())
}

func sqliteDialector(cfg config.DBConfig) (gorm.Dialector, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	return sqlite.New(sqlite.Config{
		DriverName: "sqlite",
		DSN:        sqliteDSN(cfg),
	}), nil
}
