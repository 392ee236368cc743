package db

import (
	"context"

	"github.com/value-voyage/backend/internal/config"
	"gorm.io/gorm"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS goods_prices (
		name        TEXT NOT NULL CHECK (name <> ''),
		price       REAL,
		date        TEXT NOT NULL CHECK (length(date) = 10),
		good_unit   TEXT,
		data_source TEXT NOT NULL,
		PRIMARY KEY (name, date, data_source)
	)`,
	`CREATE TABLE IF NOT EXISTS incomes (
		year                      INTEGER NOT NULL,
		inflation_cpi             REAL,
		tax_units                 INTEGER,
		average_income_unadjusted REAL NOT NULL,
		average_income_adjusted   REAL,
		source_name               TEXT NOT NULL,
		source_link               TEXT,
		region                    TEXT NOT NULL,
		PRIMARY KEY (year, source_name, region)
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS goods_prices (
		name        TEXT NOT NULL CHECK (name <> ''),
		price       NUMERIC(20,10),
		date        TEXT NOT NULL CHECK (length(date) = 10),
		good_unit   TEXT,
		data_source TEXT NOT NULL,
		PRIMARY KEY (name, date, data_source)
	)`,
	`CREATE TABLE IF NOT EXISTS incomes (
		year                      INTEGER NOT NULL,
		inflation_cpi             NUMERIC(15,10),
		tax_units                 BIGINT,
		average_income_unadjusted NUMERIC(20,10) NOT NULL,
		average_income_adjusted   NUMERIC(20,10),
		source_name               TEXT NOT NULL,
		source_link               TEXT,
		region                    TEXT NOT NULL,
		PRIMARY KEY (year, source_name, region)
	)`,
}

// Migrate creates goods_prices and incomes if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := sqliteSchema
	if s.cfg.Driver == config.DriverPostgres {
		stmts = postgresSchema
	}
	return s.WithTx(ctx, func(tx *gorm.DB) error {
		for _, stmt := range stmts {
			if err := tx.Exec(stmt).Error; err != nil {
				return Classify("migrate", err)
			}
		}
		return nil
	})
}
