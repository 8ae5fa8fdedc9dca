package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/leverbot/leverbot/internal/domain"
)

// archiveBatchSize bounds how many closed positions are pulled per query
// while draining the retention window.
const archiveBatchSize = 500

// Archiver moves records past their retention window out of the primary
// store: closed positions and audit rows older than the cutoff are
// serialized to JSONL, uploaded to S3, and then pruned from Postgres.
// The upload happens before the prune so a failed upload never loses data.
type Archiver struct {
	writer    domain.BlobWriter
	positions domain.PositionStore
	audit     domain.AuditStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(writer domain.BlobWriter, positions domain.PositionStore, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		positions: positions,
		audit:     audit,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       time.Now,
	}
}

// ArchivePositions drains closed positions older than the cutoff in batches.
// Each batch is uploaded before its rows are deleted, so an upload failure
// leaves the remaining rows untouched for the next run. Returns the total
// number of positions archived.
func (a *Archiver) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	stamp := a.now().UTC()

	for seq := 0; ; seq++ {
		batch, err := a.positions.ListClosedBefore(ctx, before, archiveBatchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive positions query: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		buf, err := marshalJSONL(batch)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive positions marshal: %w", err)
		}

		path := batchPath("positions", stamp, seq)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: archive positions upload: %w", err)
		}

		for _, p := range batch {
			if err := a.positions.Delete(ctx, p.ID); err != nil {
				return total, fmt.Errorf("s3blob: prune position %s: %w", p.ID, err)
			}
			total++
		}

		a.logger.Info("archived position batch",
			slog.String("path", path),
			slog.Int("count", len(batch)))

		if err := a.audit.Log(ctx, "archive_positions", map[string]any{
			"path":   path,
			"count":  len(batch),
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return total, fmt.Errorf("s3blob: archive positions audit log: %w", err)
		}

		if len(batch) < archiveBatchSize {
			return total, nil
		}
	}
}

// ArchiveAudit uploads audit rows older than the cutoff as JSONL and then
// prunes them. Returns the number of rows pruned.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.audit.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", a.now().UTC())
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	pruned, err := a.audit.PruneBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: prune audit: %w", err)
	}

	a.logger.Info("archived audit rows",
		slog.String("path", path),
		slog.Int64("count", pruned))

	return pruned, nil
}

// keyTimeLayout stamps archive keys with the run time, colon-free for S3
// tooling. Keying by run time rather than the cutoff keeps successive runs
// from overwriting each other's objects.
const keyTimeLayout = "2006-01-02T15-04-05"

// archivePath builds the S3 key for an archive file.
//
//	archive/audit/2026-08-31T04-00-00.jsonl
func archivePath(kind string, runAt time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, runAt.Format(keyTimeLayout))
}

// batchPath is archivePath with a sequence suffix so successive batches from
// one run do not overwrite each other.
//
//	archive/positions/2026-08-31T04-00-00-000.jsonl
func batchPath(kind string, runAt time.Time, seq int) string {
	return fmt.Sprintf("archive/%s/%s-%03d.jsonl", kind, runAt.Format(keyTimeLayout), seq)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON. Each
// element becomes a single compact JSON line followed by '\n'.
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
