/**
 * @description
 * Upsert Writer: persists canonical long rows by natural key.
 * A batch is consumed inside one transaction and flushed in chunks with
 * INSERT ... ON CONFLICT DO UPDATE, so re-ingesting a file is idempotent and
 * a failure anywhere leaves the tables untouched.
 *
 * @dependencies
 * - backend/internal/db
 * - backend/internal/models
 * - gorm.io/gorm
 *
 * @notes
 * - No retries. Lock contention surfaces as a storage error once the
 *   configured lock wait elapses.
 */

package services

import (
	"context"
	"errors"
	"iter"

	"github.com/value-voyage/backend/internal/apperr"
	"github.com/value-voyage/backend/internal/db"
	"github.com/value-voyage/backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultBatchSize = 500

var (
	goodsConflict = clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}, {Name: "date"}, {Name: "data_source"}},
		DoUpdates: clause.AssignmentColumns([]string{"price", "good_unit"}),
	}
	incomesConflict = clause.OnConflict{
		Columns: []clause.Column{{Name: "year"}, {Name: "source_name"}, {Name: "region"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"inflation_cpi",
			"tax_units",
			"average_income_unadjusted",
			"average_income_adjusted",
			"source_link",
		}),
	}
)

type UpsertWriter struct {
	Store     *db.Store
	Cache     *QueryCache
	BatchSize int
}

func NewUpsertWriter(store *db.Store, cache *QueryCache, batchSize int) *UpsertWriter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &UpsertWriter{Store: store, Cache: cache, BatchSize: batchSize}
}

// WriteGoods upserts every entry of seq into goods_prices and returns the
// number of rows the engine reports as inserted or updated.
func (w *UpsertWriter) WriteGoods(ctx context.Context, batchID string, seq iter.Seq2[models.GoodPriceEntry, error]) (int64, error) {
	return upsertAll(ctx, w, batchID, "goods_prices", seq, goodsConflict, func(e models.GoodPriceEntry) goodsKey {
		return goodsKey{e.Name, e.Date.String(), e.DataSource}
	})
}

// WriteIncomes upserts every entry of seq into incomes.
func (w *UpsertWriter) WriteIncomes(ctx context.Context, batchID string, seq iter.Seq2[models.IncomeEntry, error]) (int64, error) {
	return upsertAll(ctx, w, batchID, "incomes", seq, incomesConflict, func(e models.IncomeEntry) incomeKey {
		return incomeKey{e.Year, e.SourceName, e.Region}
	})
}

type goodsKey struct{ name, date, source string }

type incomeKey struct {
	year           int
	source, region string
}

func upsertAll[T any, K comparable](
	ctx context.Context,
	w *UpsertWriter,
	batchID, table string,
	seq iter.Seq2[T, error],
	conflict clause.OnConflict,
	keyOf func(T) K,
) (int64, error) {
	size := w.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	var affected int64
	err := w.Store.WithTx(ctx, func(tx *gorm.DB) error {
		affected = 0
		chunk := make([]T, 0, size)
		// A single INSERT may not name the same key twice; the last occurrence wins
		pos := make(map[K]int, size)

		flush := func() error {
			if len(chunk) == 0 {
				return nil
			}
			res := tx.Clauses(conflict).Create(&chunk)
			if res.Error != nil {
				return db.Classify("upsert "+table, res.Error)
			}
			affected += res.RowsAffected
			chunk = chunk[:0]
			clear(pos)
			return nil
		}

		for row, err := range seq {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			k := keyOf(row)
			if i, dup := pos[k]; dup {
				chunk[i] = row
				continue
			}
			pos[k] = len(chunk)
			chunk = append(chunk, row)
			if len(chunk) >= size {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return flush()
	})
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) && appErr.BatchID == "" {
			appErr.BatchID = batchID
		}
		return 0, err
	}

	w.Cache.Invalidate(ctx)
	return affected, nil
}
