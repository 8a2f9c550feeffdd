package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/resale/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// SaleSource is the slice of the listing service the archiver needs.
type SaleSource interface {
	ListSoldBefore(ctx context.Context, before time.Time, offset, limit int) ([]domain.Listing, error)
	SaleHistory(ctx context.Context, l domain.Listing) (domain.SaleRecord, error)
	PurgeListing(ctx context.Context, id string) error
}

// ArchiverConfig controls batch size, upload strategy and purging.
type ArchiverConfig struct {
	// Prefix is the key prefix for sale archives. Default "archive/sales".
	Prefix string
	// BatchSize is the number of listings per archive file. Default 500.
	BatchSize int
	// MultipartThreshold switches to multipart upload for files at least
	// this large. Default 16 MiB.
	MultipartThreshold int64
	// PartSize is the multipart part size. Default 8 MiB.
	PartSize int64
	// Purge deletes archived listings from the primary store once their
	// file is safely stored.
	Purge bool
}

func (c ArchiverConfig) withDefaults() ArchiverConfig {
	if c.Prefix == "" {
		c.Prefix = "archive/sales"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.MultipartThreshold <= 0 {
		c.MultipartThreshold = 16 << 20
	}
	if c.PartSize <= 0 {
		c.PartSize = 8 << 20
	}
	return c
}

// BatchResult describes one archived batch.
type BatchResult struct {
	Path    string
	Count   int
	Skipped bool // file already existed
	Purged  int
}

// Archiver exports the history of sold listings to object storage as JSONL,
// one SaleRecord per line, and optionally purges them afterwards.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	sales  SaleSource
	audit  domain.AuditStore
	cfg    ArchiverConfig
	logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	sales SaleSource,
	audit domain.AuditStore,
	cfg ArchiverConfig,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		sales:  sales,
		audit:  audit,
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("component", "sale_archiver")),
	}
}

// ArchiveSales archives every listing sold before the cutoff, one batch per
// file, and returns the batches written.
func (a *Archiver) ArchiveSales(ctx context.Context, before time.Time) ([]BatchResult, error) {
	var (
		results []BatchResult
		offset  int
	)
	for {
		listings, err := a.sales.ListSoldBefore(ctx, before, offset, a.cfg.BatchSize)
		if err != nil {
			return results, fmt.Errorf("s3blob: archive sales query: %w", err)
		}
		if len(listings) == 0 {
			return results, nil
		}

		res, err := a.archiveBatch(ctx, before, listings)
		if err != nil {
			return results, err
		}
		results = append(results, res)

		// Purged rows drop out of the query, so the next batch starts over.
		if !a.cfg.Purge {
			offset += len(listings)
		}
		if len(listings) < a.cfg.BatchSize {
			return results, nil
		}
	}
}

func (a *Archiver) archiveBatch(ctx context.Context, before time.Time, listings []domain.Listing) (BatchResult, error) {
	path := batchPath(a.cfg.Prefix, before, listings)
	res := BatchResult{Path: path, Count: len(listings)}

	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return res, fmt.Errorf("s3blob: archive sales exists: %w", err)
	}
	if exists {
		res.Skipped = true
		a.logger.InfoContext(ctx, "archive batch already stored", slog.String("path", path))
	} else {
		if err := a.upload(ctx, path, listings); err != nil {
			return res, err
		}
		if err := a.audit.Log(ctx, "archive.sales", map[string]any{
			"path":   path,
			"count":  len(listings),
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return res, fmt.Errorf("s3blob: archive sales audit log: %w", err)
		}
	}

	if a.cfg.Purge {
		for _, l := range listings {
			if err := a.sales.PurgeListing(ctx, l.ID); err != nil {
				return res, fmt.Errorf("s3blob: purge %s: %w", l.ID, err)
			}
			res.Purged++
		}
	}
	return res, nil
}

func (a *Archiver) upload(ctx context.Context, path string, listings []domain.Listing) error {
	records := make([]domain.SaleRecord, 0, len(listings))
	for _, l := range listings {
		rec, err := a.sales.SaleHistory(ctx, l)
		if err != nil {
			return fmt.Errorf("s3blob: sale history %s: %w", l.ID, err)
		}
		records = append(records, rec)
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: archive sales marshal: %w", err)
	}

	if int64(len(buf)) >= a.cfg.MultipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), a.cfg.PartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive sales upload: %w", err)
	}

	a.logger.InfoContext(ctx, "archive batch stored",
		slog.String("path", path),
		slog.Int("records", len(records)),
		slog.Int("bytes", len(buf)),
	)
	return nil
}

// batchPath names a batch file by the month of the cutoff and the first and
// last listing it holds, so re-running the same batch maps to the same key:
//
//	archive/sales/2026-03/01HV...-01HW....jsonl
func batchPath(prefix string, before time.Time, batch []domain.Listing) string {
	return fmt.Sprintf("%s/%s/%s-%s.jsonl",
		prefix, before.UTC().Format("2006-01"), batch[0].ID, batch[len(batch)-1].ID)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
