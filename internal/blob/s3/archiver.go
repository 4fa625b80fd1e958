package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/anirudhsk/optrader/internal/domain"
)

// archiveBatchSize bounds how many closed positions one archive pass moves.
const archiveBatchSize = 5000

// Archiver moves settled (closed) positions out of the primary store into
// monthly JSONL files in object storage. The upload happens before the
// delete; a crash between the two re-archives on the next pass rather than
// losing records.
type Archiver struct {
	writer    *Writer
	positions domain.PositionStore
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer *Writer, positions domain.PositionStore, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		positions: positions,
		audit:     audit,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveClosedPositions uploads all positions closed before the cutoff and
// prunes them from the store. Returns the number of records archived.
func (a *Archiver) ArchiveClosedPositions(ctx context.Context, before time.Time) (int64, error) {
	var total int64

	for {
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

		path := archivePath("positions", batch[0].OpenedAt, batch[len(batch)-1].ID)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: archive positions upload: %w", err)
		}

		ids := make([]string, len(batch))
		for i, pos := range batch {
			ids[i] = pos.ID
		}
		if err := a.positions.DeleteClosed(ctx, ids); err != nil {
			return total, fmt.Errorf("s3blob: prune archived positions: %w", err)
		}

		total += int64(len(batch))

		if err := a.audit.Log(ctx, "archive.positions", map[string]any{
			"path":   path,
			"count":  len(batch),
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return total, fmt.Errorf("s3blob: archive audit log: %w", err)
		}

		if len(batch) < archiveBatchSize {
			return total, nil
		}
	}
}

// Run archives on a fixed interval until the context is cancelled. retention
// controls how far back closed positions remain in the primary store.
func (a *Archiver) Run(ctx context.Context, interval, retention time.Duration) error {
	a.logger.InfoContext(ctx, "archiver started",
		slog.Duration("interval", interval),
		slog.Duration("retention", retention),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			n, err := a.ArchiveClosedPositions(ctx, cutoff)
			if err != nil {
				a.logger.ErrorContext(ctx, "archive pass failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "archived closed positions", slog.Int64("count", n))
			}
		}
	}
}

// archivePath builds the object key, partitioned by year-month with the last
// archived ID as a uniqueness suffix.
func archivePath(kind string, month time.Time, lastID string) string {
	return fmt.Sprintf("archive/%s/%s-%s.jsonl", kind, month.Format("2006-01"), lastID)
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
