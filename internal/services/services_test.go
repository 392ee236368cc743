package services

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/value-voyage/backend/internal/apperr"
	"github.com/value-voyage/backend/internal/config"
	"github.com/value-voyage/backend/internal/db"
	"github.com/value-voyage/backend/internal/ingest"
	"github.com/value-voyage/backend/internal/models"
	"gorm.io/gorm"
)

type fixture struct {
	store  *db.Store
	writer *UpsertWriter
	query  *QueryService
	ingest *IngestService
	redis  *miniredis.Miniredis
}

func newFixture(t *testing.T, batchSize int) *fixture {
	t.Helper()
	store := db.NewStore(config.DBConfig{
		Driver:      config.DriverSQLite,
		Path:        filepath.Join(t.TempDir(), "prices.sqlite"),
		LockTimeout: time.Second,
		Env:         "test",
	})
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache := NewQueryCache(client)
	writer := NewUpsertWriter(store, cache, batchSize)
	return &fixture{
		store:  store,
		writer: writer,
		query:  NewQueryService(store, cache),
		ingest: NewIngestService(writer),
		redis:  mr,
	}
}

func seqOf[T any](rows ...T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, r := range rows {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func price(name, date, source, amount, unit string) models.GoodPriceEntry {
	d, err := models.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return models.GoodPriceEntry{
		Name:       name,
		Price:      decimal.NewNullDecimal(decimal.RequireFromString(amount)),
		Date:       d,
		GoodUnit:   unit,
		DataSource: source,
	}
}

func income(year int, region, source, amount string) models.IncomeEntry {
	return models.IncomeEntry{
		Year:                    year,
		AverageIncomeUnadjusted: decimal.RequireFromString(amount),
		SourceName:              source,
		Region:                  region,
	}
}

func (f *fixture) countGoods(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := f.store.WithConn(context.Background(), func(tx *gorm.DB) error {
		return tx.Model(&models.GoodPriceEntry{}).Count(&n).Error
	}); err != nil {
		t.Fatalf("count goods: %v", err)
	}
	return n
}

func TestUpsertKeepsLastWrite(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	if _, err := f.writer.WriteGoods(ctx, "b1", seqOf(price("eggs", "1950-07-02", "bls", "0.5", "$/dozen"))); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := f.writer.WriteGoods(ctx, "b2", seqOf(price("eggs", "1950-07-02", "bls", "0.75", "$/dozen"))); err != nil {
		t.Fatalf("second write: %v", err)
	}

	var rows []models.GoodPriceEntry
	if err := f.store.WithConn(ctx, func(tx *gorm.DB) error { return tx.Find(&rows).Error }); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(rows))
	}
	if !rows[0].Price.Decimal.Equal(decimal.RequireFromString("0.75")) {
		t.Fatalf("expected the second price, got %s", rows[0].Price.Decimal)
	}
}

func TestWriterCollapsesDuplicateKeysInOneChunk(t *testing.T) {
	f := newFixture(t, 10)
	n, err := f.writer.WriteGoods(context.Background(), "b1", seqOf(
		price("milk", "1960-07-02", "bls", "1", "$/gallon"),
		price("milk", "1960-07-02", "bls", "2", "$/gallon"),
	))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 1 || f.countGoods(t) != 1 {
		t.Fatalf("expected a single stored row, affected=%d", n)
	}
}

func TestWriterRollsBackWhenLateChunkFails(t *testing.T) {
	f := newFixture(t, 2)
	bad := price("", "1950-07-02", "bls", "1", "$/lb") // violates the name check
	_, err := f.writer.WriteGoods(context.Background(), "batch-9", seqOf(
		price("bread", "1950-07-02", "bls", "1", "$/lb"),
		price("bread", "1951-07-02", "bls", "1", "$/lb"),
		price("bread", "1952-07-02", "bls", "1", "$/lb"),
		bad,
	))
	if !errors.Is(err, apperr.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.BatchID != "batch-9" {
		t.Fatalf("expected the batch id on the error, got %+v", ae)
	}
	if n := f.countGoods(t); n != 0 {
		t.Fatalf("expected nothing persisted, got %d rows", n)
	}
}

func TestWriterStreamErrorRollsBack(t *testing.T) {
	f := newFixture(t, 1)
	boom := apperr.Conversion("year", "0", errors.New("out of range"))
	seq := func(yield func(models.GoodPriceEntry, error) bool) {
		if !yield(price("tea", "1950-07-02", "bls", "1", "$/lb"), nil) {
			return
		}
		yield(models.GoodPriceEntry{}, boom)
	}
	_, err := f.writer.WriteGoods(context.Background(), "b1", seq)
	if !errors.Is(err, apperr.ErrConversion) {
		t.Fatalf("expected conversion error, got %v", err)
	}
	if n := f.countGoods(t); n != 0 {
		t.Fatalf("expected rollback, got %d rows", n)
	}
}

func TestIngestGoodsRejectsWholeBatchOnBadUnit(t *testing.T) {
	f := newFixture(t, 0)
	csv := "year,jan,year avg,good name,good unit,source,price unit\n" +
		"1950,10,12,eggs,$/dozen,bls,cents\n" +
		"1950,1,1,flour,$/lb,bls,pound\n"
	_, err := f.ingest.IngestGoods(context.Background(), strings.NewReader(csv), "goods.csv")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if n := f.countGoods(t); n != 0 {
		t.Fatalf("expected zero rows written, got %d", n)
	}
}

func TestIngestGoodsReportsCounts(t *testing.T) {
	f := newFixture(t, 0)
	csv := "year,jan,feb,year avg,good name,good unit,source,price unit\n" +
		"1950,10,,12,Eggs,$/dozen,bls,cents\n"
	res, err := f.ingest.IngestGoods(context.Background(), strings.NewReader(csv), "eggs.csv")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Records != 1 || res.Emitted != 2 || res.RowsAffected != 2 || res.BatchID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestIngestGoodsDirContinuesPastBadFile(t *testing.T) {
	f := newFixture(t, 0)
	dir := t.TempDir()
	good := "year,year avg,good name,good unit,source,price unit\n1950,12,eggs,$/dozen,bls,cents\n"
	bad := "year,good name,good unit,source,price unit\n1950,eggs,$/dozen,bls,cents\n"
	for name, body := range map[string]string{"a_bad.csv": bad, "b_good.csv": good, "notes.txt": "ignored"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}

	results, err := f.ingest.IngestGoodsDir(context.Background(), dir)
	if !errors.Is(err, apperr.ErrSchema) || !strings.Contains(err.Error(), "a_bad.csv") {
		t.Fatalf("expected the bad file's schema error, got %v", err)
	}
	if len(results) != 1 || results[0].File != "b_good.csv" {
		t.Fatalf("expected the good file to be ingested, got %+v", results)
	}
}

func TestIngestIncomesRejectsUnknownSource(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.ingest.IngestIncomes(context.Background(), strings.NewReader("year,x\n1950,1\n"), "x.csv", ingest.FormatWide, ingest.SourceTag{Name: "ONS"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIngestIncomesFillsPresetLink(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	res, err := f.ingest.IngestIncomes(ctx, strings.NewReader("year,average_income_unadjusted\n1950,3600\n"), "fred.csv", ingest.FormatLong, ingest.SourceTag{Name: "fred"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.RowsAffected != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	rows, err := f.query.FetchIncomes(ctx, YearRange{1950, 1950}, models.SourceFRED, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 1 || rows[0].SourceLink != ingest.TagFRED.Link || rows[0].Region != models.DefaultRegion {
		t.Fatalf("unexpected incomes %+v", rows)
	}
}

func TestAffordabilityMonthly(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	if _, err := f.writer.WriteGoods(ctx, "g", seqOf(price("eggs", "1950-07-02", "bls", "0.10", "$/dozen"))); err != nil {
		t.Fatalf("write goods: %v", err)
	}
	if _, err := f.writer.WriteIncomes(ctx, "i", seqOf(income(1950, models.DefaultRegion, models.SourceFRED, "3600"))); err != nil {
		t.Fatalf("write incomes: %v", err)
	}

	got, err := f.query.FetchFinalGoodsAffordable(ctx, AffordabilityParams{
		Range:        YearRange{1950, 1950},
		Goods:        []string{"Eggs"},
		IncomeSource: models.SourceFRED,
		Interval:     "monthly",
	})
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	want := models.AffordabilityRecord{GoodName: "eggs", Year: 1950, Region: models.DefaultRegion, Quantity: 3000, Unit: "dozen"}
	if len(got) != 1 || got[0] != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	annual, err := f.query.FetchFinalGoodsAffordable(ctx, AffordabilityParams{
		Range:        YearRange{1950, 1950},
		Goods:        []string{"eggs"},
		IncomeSource: models.SourceFRED,
		Interval:     "annual",
	})
	if err != nil {
		t.Fatalf("derive annual: %v", err)
	}
	if len(annual) != 1 || annual[0].Quantity != 36000 {
		t.Fatalf("expected 36000 dozen a year, got %+v", annual)
	}
}

func TestAffordabilityOmitsAbsentCombinations(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	if _, err := f.writer.WriteGoods(ctx, "g", seqOf(
		price("eggs", "1950-07-02", "bls", "0.5", "$/dozen"),
		price("eggs", "1952-07-02", "bls", "0.6", "$/dozen"),
		price("eggs", "1953-07-02", "bls", "0", "$/dozen"),
		price("milk", "1951-03-01", "bls", "0.9", "$/gallon"), // monthly only, no year average
	)); err != nil {
		t.Fatalf("write goods: %v", err)
	}
	if _, err := f.writer.WriteIncomes(ctx, "i", seqOf(
		income(1950, models.DefaultRegion, models.SourceBEA, "1000"),
		income(1951, models.DefaultRegion, models.SourceBEA, "1100"),
		income(1953, models.DefaultRegion, models.SourceBEA, "1300"),
		income(1950, "mideast", models.SourceBEA, "900"),
	)); err != nil {
		t.Fatalf("write incomes: %v", err)
	}

	got, err := f.query.FetchFinalGoodsAffordable(ctx, AffordabilityParams{
		Range:        YearRange{1950, 1953},
		Goods:        []string{"eggs", "milk"},
		IncomeSource: models.SourceBEA,
		Interval:     "annually",
	})
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected only eggs/1950/united states, got %+v", got)
	}
	if got[0].Year != 1950 || got[0].GoodName != "eggs" || got[0].Quantity != 2000 {
		t.Fatalf("unexpected record %+v", got[0])
	}
}

func TestAffordabilityRejectsBadParameters(t *testing.T) {
	f := newFixture(t, 0)
	ok := AffordabilityParams{Range: YearRange{1950, 1960}, Goods: []string{"eggs"}, IncomeSource: "BEA", Interval: "annually"}
	cases := map[string]func(p *AffordabilityParams){
		"unknown interval": func(p *AffordabilityParams) { p.Interval = "weekly" },
		"inverted range":   func(p *AffordabilityParams) { p.Range = YearRange{1960, 1950} },
		"no goods":         func(p *AffordabilityParams) { p.Goods = []string{" "} },
		"no source":        func(p *AffordabilityParams) { p.IncomeSource = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := ok
			mutate(&p)
			got, err := f.query.FetchFinalGoodsAffordable(context.Background(), p)
			if !errors.Is(err, apperr.ErrQuery) {
				t.Fatalf("expected query error, got %v", err)
			}
			if got != nil {
				t.Fatalf("expected no partial result, got %+v", got)
			}
		})
	}
}

func TestFetchGoodsPricesKeepsLatestPerYear(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	if _, err := f.writer.WriteGoods(ctx, "g", seqOf(
		price("eggs", "1950-01-01", "bls", "0.40", "$/dozen"),
		price("eggs", "1950-12-01", "bls", "0.60", "$/dozen"),
		price("eggs", "1950-12-01", "census", "0.65", "$/dozen"),
		price("eggs", "1950-07-02", "bls", "0.50", "$/dozen"),
		price("eggs", "1951-02-01", "bls", "0.70", "$/dozen"),
	)); err != nil {
		t.Fatalf("write: %v", err)
	}

	monthly, err := f.query.FetchGoodsPrices(ctx, YearRange{1950, 1951}, nil, false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(monthly) != 2 {
		t.Fatalf("expected one row per year, got %+v", monthly)
	}
	if monthly[0].Date.String() != "1950-12-01" || monthly[0].DataSource != "bls" {
		t.Fatalf("expected December from bls, got %+v", monthly[0])
	}

	avg, err := f.query.FetchGoodsPrices(ctx, YearRange{1950, 1951}, []string{"eggs"}, true)
	if err != nil {
		t.Fatalf("fetch averages: %v", err)
	}
	if len(avg) != 1 || !avg[0].Date.IsYearAverage() {
		t.Fatalf("expected the year-average row only, got %+v", avg)
	}
}

func TestQueryCacheIsInvalidatedByWrites(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	if _, err := f.writer.WriteGoods(ctx, "g1", seqOf(price("eggs", "1950-07-02", "bls", "1", "$/dozen"))); err != nil {
		t.Fatalf("write: %v", err)
	}

	first, err := f.query.FetchGoodsPrices(ctx, YearRange{1950, 1950}, nil, true)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(f.redis.Keys()) < 2 {
		t.Fatalf("expected generation and result keys, got %v", f.redis.Keys())
	}

	// bypass the writer: the cached result must still be served
	if err := f.store.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Exec("UPDATE goods_prices SET price = 5").Error
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	cachedRows, err := f.query.FetchGoodsPrices(ctx, YearRange{1950, 1950}, nil, true)
	if err != nil {
		t.Fatalf("fetch cached: %v", err)
	}
	if !cachedRows[0].Price.Decimal.Equal(first[0].Price.Decimal) {
		t.Fatalf("expected cached price %s, got %s", first[0].Price.Decimal, cachedRows[0].Price.Decimal)
	}

	if _, err := f.writer.WriteGoods(ctx, "g2", seqOf(price("eggs", "1950-07-02", "bls", "2", "$/dozen"))); err != nil {
		t.Fatalf("second write: %v", err)
	}
	fresh, err := f.query.FetchGoodsPrices(ctx, YearRange{1950, 1950}, nil, true)
	if err != nil {
		t.Fatalf("fetch fresh: %v", err)
	}
	if !fresh[0].Price.Decimal.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected the freshly written price, got %s", fresh[0].Price.Decimal)
	}
}

func TestGoodsCoverage(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	if _, err := f.writer.WriteGoods(ctx, "g", seqOf(
		price("eggs", "1950-07-02", "bls", "0.5", "$/dozen"),
		price("eggs", "1952-07-02", "bls", "0.6", "$/dozen"),
		price("milk", "1951-07-02", "bls", "0.9", "$/gallon"),
	)); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := f.query.GoodsCoverage(ctx, YearRange{1950, 1952}, nil)
	if err != nil {
		t.Fatalf("coverage: %v", err)
	}
	if len(got) != 2 || got[0].Name != "eggs" || got[1].Name != "milk" {
		t.Fatalf("unexpected coverage %+v", got)
	}
	if len(got[0].Present) != 2 || len(got[0].Missing) != 1 || got[0].Missing[0] != 1951 {
		t.Fatalf("unexpected eggs coverage %+v", got[0])
	}
}

func TestUpsertIncomesKeepsLastWrite(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	units := int64(1500)
	first := income(1950, models.DefaultRegion, models.SourceIRS, "100")
	first.TaxUnits = &units
	first.InflationCPI = decimal.NewNullDecimal(decimal.NewFromInt(8))
	if _, err := f.writer.WriteIncomes(ctx, "i1", seqOf(first)); err != nil {
		t.Fatalf("first write: %v", err)
	}
	second := income(1950, models.DefaultRegion, models.SourceIRS, "200")
	if _, err := f.writer.WriteIncomes(ctx, "i2", seqOf(second)); err != nil {
		t.Fatalf("second write: %v", err)
	}

	var rows []models.IncomeEntry
	if err := f.store.WithConn(ctx, func(tx *gorm.DB) error { return tx.Find(&rows).Error }); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(rows))
	}
	got := rows[0]
	if !got.AverageIncomeUnadjusted.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected the second income, got %s", got.AverageIncomeUnadjusted)
	}
	if got.TaxUnits != nil || got.InflationCPI.Valid {
		t.Fatalf("expected tax units and cpi cleared by the second write, got %v / %v", got.TaxUnits, got.InflationCPI)
	}
}

func TestAffordabilityRejectsQuantityBeyondInt64(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	if _, err := f.writer.WriteGoods(ctx, "g", seqOf(price("salt", "1950-07-02", "bls", "0.00000001", "$/grain"))); err != nil {
		t.Fatalf("write goods: %v", err)
	}
	if _, err := f.writer.WriteIncomes(ctx, "i", seqOf(income(1950, models.DefaultRegion, models.SourceFRED, "1000000000000"))); err != nil {
		t.Fatalf("write incomes: %v", err)
	}

	got, err := f.query.FetchFinalGoodsAffordable(ctx, AffordabilityParams{
		Range:        YearRange{1950, 1950},
		Goods:        []string{"salt"},
		IncomeSource: models.SourceFRED,
		Interval:     "annually",
	})
	if !errors.Is(err, apperr.ErrConversion) {
		t.Fatalf("expected conversion error, got %v (records %+v)", err, got)
	}
	if got != nil {
		t.Fatalf("expected no partial result, got %+v", got)
	}
}

func TestAffordabilityUsesFirstSourceForSharedYear(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	if _, err := f.writer.WriteGoods(ctx, "g", seqOf(
		price("eggs", "1950-07-02", "census", "0.25", "$/dozen"),
		price("eggs", "1950-07-02", "bls", "0.5", "$/dozen"),
	)); err != nil {
		t.Fatalf("write goods: %v", err)
	}
	if _, err := f.writer.WriteIncomes(ctx, "i", seqOf(income(1950, models.DefaultRegion, models.SourceFRED, "1000"))); err != nil {
		t.Fatalf("write incomes: %v", err)
	}

	got, err := f.query.FetchFinalGoodsAffordable(ctx, AffordabilityParams{
		Range:        YearRange{1950, 1950},
		Goods:        []string{"eggs"},
		IncomeSource: models.SourceFRED,
		Interval:     "annually",
	})
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if len(got) != 1 || got[0].Quantity != 2000 {
		t.Fatalf("expected the bls price (2000 dozen), got %+v", got)
	}
}
