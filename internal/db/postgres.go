/**
 * @description
 * PostgreSQL dialector for the Store.
 * Used when DB_DRIVER=postgres; the session lock_timeout is set by Store.Open.
 *
 * @dependencies
 * - gorm.io/driver/postgres: Postgres driver
 */

package db

import (
	"github.com/value-voyage/backend/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func postgresDialector(cfg config.DBConfig) gorm.Dialector {
	return postgres.New(postgres.Config{
		DSN:                  cfg.URL,
		PreferSimpleProtocol: true, // disable prepared statements
	})
}
