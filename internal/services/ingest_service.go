/**
 * @description
 * Ingestion orchestration: read -> validate -> melt -> upsert for one source
 * file per batch.
 *
 * @dependencies
 * - backend/internal/ingest
 * - backend/internal/services (UpsertWriter)
 * - github.com/rs/zerolog (via logger)
 *
 * @notes
 * - Goods batches are all-or-nothing: a validation failure writes nothing.
 * - Incomes batches are lenient; discarded cells and rows are reported in
 *   the result and logged.
 */

package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/value-voyage/backend/internal/apperr"
	"github.com/value-voyage/backend/internal/ingest"
	"github.com/value-voyage/backend/internal/logger"
	"github.com/value-voyage/backend/internal/models"
)

// IngestResult summarises one ingested batch.
type IngestResult struct {
	BatchID      string           `json:"batch_id"`
	File         string           `json:"file"`
	Kind         ingest.Kind      `json:"kind"`
	Records      int              `json:"records"`
	Emitted      int              `json:"emitted"`
	Dropped      []ingest.Dropped `json:"dropped,omitempty"`
	RowsAffected int64            `json:"rows_affected"`
}

type IngestService struct {
	Writer *UpsertWriter
}

func NewIngestService(writer *UpsertWriter) *IngestService {
	return &IngestService{Writer: writer}
}

// IngestGoods ingests one goods CSV read from r. origin names it in results
// and logs.
func (s *IngestService) IngestGoods(ctx context.Context, r io.Reader, origin string) (*IngestResult, error) {
	batch, err := ingest.ReadCSV(r, ingest.KindGoods)
	if err != nil {
		return nil, err
	}
	batch.Origin = origin

	records, err := ingest.ValidateGoods(batch)
	if err != nil {
		logger.Error("Rejected goods batch %s (%s): %v", batch.ID, origin, err)
		return nil, err
	}

	res := &IngestResult{BatchID: batch.ID, File: origin, Kind: batch.Kind, Records: len(records)}
	res.RowsAffected, err = s.Writer.WriteGoods(ctx, batch.ID, counted(ingest.MeltGoods(records), &res.Emitted))
	if err != nil {
		logger.Error("Failed to write goods batch %s (%s): %v", batch.ID, origin, err)
		return nil, err
	}
	logResult(res)
	return res, nil
}

// IngestGoodsFile ingests the goods CSV at path.
func (s *IngestService) IngestGoodsFile(ctx context.Context, path string) (*IngestResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Validation("file", path, err.Error())
	}
	defer f.Close()
	return s.IngestGoods(ctx, f, filepath.Base(path))
}

// IngestGoodsDir ingests every *.csv file in dir as its own batch. A failing
// file does not stop the others; all failures are returned joined.
func (s *IngestService) IngestGoodsDir(ctx context.Context, dir string) ([]*IngestResult, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, apperr.Validation("dir", dir, err.Error())
	}
	slices.Sort(paths)

	var (
		results []*IngestResult
		errs    []error
	)
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := s.IngestGoodsFile(ctx, path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(path), err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// IngestIncomes ingests one incomes CSV of the given format, tagging every row
// with tag. An empty tag link is filled from the known source presets.
func (s *IngestService) IngestIncomes(ctx context.Context, r io.Reader, origin string, format ingest.IncomeFormat, tag ingest.SourceTag) (*IngestResult, error) {
	tag, err := resolveTag(tag)
	if err != nil {
		return nil, err
	}

	batch, err := ingest.ReadCSV(r, ingest.KindIncomes)
	if err != nil {
		return nil, err
	}
	batch.Origin = origin

	records, dropped, err := ingest.ValidateIncomes(batch, format)
	if err != nil {
		logger.Error("Rejected incomes batch %s (%s): %v", batch.ID, origin, err)
		return nil, err
	}
	for _, d := range dropped {
		logger.Warn("Incomes batch %s (%s): dropped %s", batch.ID, origin, d)
	}

	res := &IngestResult{BatchID: batch.ID, File: origin, Kind: batch.Kind, Records: len(records), Dropped: dropped}
	res.RowsAffected, err = s.Writer.WriteIncomes(ctx, batch.ID, counted(ingest.MeltIncomes(records, tag), &res.Emitted))
	if err != nil {
		logger.Error("Failed to write incomes batch %s (%s): %v", batch.ID, origin, err)
		return nil, err
	}
	logResult(res)
	return res, nil
}

// IngestIncomesFile ingests the incomes CSV at path.
func (s *IngestService) IngestIncomesFile(ctx context.Context, path string, format ingest.IncomeFormat, tag ingest.SourceTag) (*IngestResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Validation("file", path, err.Error())
	}
	defer f.Close()
	return s.IngestIncomes(ctx, f, filepath.Base(path), format, tag)
}

func resolveTag(tag ingest.SourceTag) (ingest.SourceTag, error) {
	name := strings.ToUpper(strings.TrimSpace(tag.Name))
	preset, ok := ingest.DefaultTag(name)
	if !ok {
		return tag, apperr.Validation("source_name", tag.Name, fmt.Sprintf("must be one of %s, %s, %s", models.SourceIRS, models.SourceBEA, models.SourceFRED))
	}
	if link := strings.TrimSpace(tag.Link); link != "" {
		preset.Link = link
	}
	return preset, nil
}

// counted passes seq through, recording how many rows the last full pass yielded.
func counted[T any](seq iter.Seq2[T, error], n *int) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		*n = 0
		for v, err := range seq {
			if err == nil {
				*n++
			}
			if !yield(v, err) {
				return
			}
		}
	}
}

func logResult(res *IngestResult) {
	logger.L().Info().
		Str("batch_id", res.BatchID).
		Str("file", res.File).
		Str("kind", string(res.Kind)).
		Int("records", res.Records).
		Int("emitted", res.Emitted).
		Int("dropped", len(res.Dropped)).
		Int64("rows_affected", res.RowsAffected).
		Msg("Ingested batch")
}
