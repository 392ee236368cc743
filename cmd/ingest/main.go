// Batch ingestion CLI for goods prices and incomes.
//
// Usage:
//
//	ingest migrate
//	ingest goods [--dir data/raw/input_data_csv/goods] [file.csv ...]
//	ingest incomes --format wide|long|irs --source IRS|BEA|FRED [--link URL] file.csv ...
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"github.com/value-voyage/backend/internal/config"
	"github.com/value-voyage/backend/internal/db"
	"github.com/value-voyage/backend/internal/ingest"
	"github.com/value-voyage/backend/internal/logger"
	"github.com/value-voyage/backend/internal/services"
)

type runtime struct {
	cfg    *config.Config
	store  *db.Store
	ingest *services.IngestService
	close  func()
}

func setup(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Setup(cfg.Server.Env)

	store := db.NewStore(cfg.DB)
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}

	redisClient, err := db.ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		// the cache is optional; ingestion proceeds without invalidation
		logger.Warn("Redis unavailable, query cache will not be invalidated: %v", err)
		redisClient = nil
	}

	writer := services.NewUpsertWriter(store, services.NewQueryCache(redisClient), cfg.Ingest.BatchSize)
	return &runtime{
		cfg:    cfg,
		store:  store,
		ingest: services.NewIngestService(writer),
		close: func() {
			if redisClient != nil {
				_ = redisClient.Close()
			}
		},
	}, nil
}

func main() {
	app := &cli.App{
		Name:  "ingest",
		Usage: "Load goods price and income CSVs into the Value Voyage database",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print batch results as JSON",
			},
		},
		Commands: []*cli.Command{
			migrateCommand(),
			goodsCommand(),
			incomesCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the goods_prices and incomes tables if missing",
		Action: func(c *cli.Context) error {
			rt, err := setup(c.Context)
			if err != nil {
				return err
			}
			defer rt.close()
			logger.Info("✅ Schema ready (%s)", rt.store.Driver())
			return nil
		},
	}
}

func goodsCommand() *cli.Command {
	return &cli.Command{
		Name:      "goods",
		Usage:     "Ingest wide-format goods price files, one batch per file",
		ArgsUsage: "[file.csv ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "dir",
				Usage: "Ingest every *.csv in this directory (default GOODS_CSV_DIR when no files are given)",
			},
		},
		Action: func(c *cli.Context) error {
			rt, err := setup(c.Context)
			if err != nil {
				return err
			}
			defer rt.close()

			var (
				results []*services.IngestResult
				errs    []error
			)
			dir := c.String("dir")
			if dir == "" && c.NArg() == 0 {
				dir = rt.cfg.Ingest.GoodsDir
			}
			if dir != "" {
				res, err := rt.ingest.IngestGoodsDir(c.Context, dir)
				results = append(results, res...)
				errs = append(errs, err)
			}
			for _, path := range c.Args().Slice() {
				res, err := rt.ingest.IngestGoodsFile(c.Context, path)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
					continue
				}
				results = append(results, res)
			}
			return report(c, results, errors.Join(errs...))
		},
	}
}

func incomesCommand() *cli.Command {
	return &cli.Command{
		Name:      "incomes",
		Usage:     "Ingest income files tagged with one source",
		ArgsUsage: "file.csv [file.csv ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "format",
				Aliases:  []string{"f"},
				Usage:    "Source layout (wide, long, irs)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "source",
				Aliases:  []string{"s"},
				Usage:    "Source name (IRS, BEA, FRED)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "link",
				Usage: "Source link stored with every row (defaults to the source's known link)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("at least one incomes file is required", 2)
			}
			format, err := ingest.ParseIncomeFormat(c.String("format"))
			if err != nil {
				return err
			}
			tag := ingest.SourceTag{Name: c.String("source"), Link: c.String("link")}

			rt, err := setup(c.Context)
			if err != nil {
				return err
			}
			defer rt.close()

			var (
				results []*services.IngestResult
				errs    []error
			)
			for _, path := range c.Args().Slice() {
				res, err := rt.ingest.IngestIncomesFile(c.Context, path, format, tag)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
					continue
				}
				results = append(results, res)
			}
			return report(c, results, errors.Join(errs...))
		},
	}
}

func report(c *cli.Context, results []*services.IngestResult, err error) error {
	if c.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(results); encErr != nil {
			return encErr
		}
	} else {
		for _, r := range results {
			fmt.Printf("%-40s %-8s records=%-6d rows=%-6d dropped=%d\n", r.File, r.Kind, r.Records, r.RowsAffected, len(r.Dropped))
		}
	}
	return err
}
