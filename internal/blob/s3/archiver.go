package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"spreadwatch/internal/domain"
)

// Archiver moves aged opportunity records out of the primary store: rows
// older than the retention cutoff are serialized to JSONL, uploaded, and
// only then deleted. A failed upload leaves the rows in place so no record
// is ever lost between the two steps.
type Archiver struct {
	writer    domain.BlobWriter
	store     domain.OpportunityStore
	prefix    string
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewArchiver creates an Archiver that retains records for the given
// duration before moving them to object storage under the key prefix.
func NewArchiver(writer domain.BlobWriter, store domain.OpportunityStore, prefix string, retention time.Duration, logger *slog.Logger) *Archiver {
	if prefix == "" {
		prefix = "opportunities"
	}
	return &Archiver{
		writer:    writer,
		store:     store,
		prefix:    prefix,
		retention: retention,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// Run archives on the given interval until the context is cancelled.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			count, err := a.ArchiveOnce(ctx)
			if err != nil {
				a.logger.ErrorContext(ctx, "archive pass failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if count > 0 {
				a.logger.InfoContext(ctx, "archived opportunities",
					slog.Int64("count", count),
				)
			}
		}
	}
}

// ArchiveOnce performs a single archive pass and returns the number of
// records moved.
func (a *Archiver) ArchiveOnce(ctx context.Context) (int64, error) {
	cutoff := a.now().Add(-a.retention)

	recs, err := a.store.ListBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	key := archiveKey(a.prefix, a.now())
	if err := a.writer.Put(ctx, key, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	deleted, err := a.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive delete after upload %s: %w", key, err)
	}
	return deleted, nil
}

// archiveKey builds the object key for an archive batch, partitioned by day
// and suffixed with the pass timestamp so repeated passes never collide.
//
//	archive/opportunities/2026-09-01/20260901T120000Z.jsonl
func archiveKey(prefix string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("archive/%s/%s/%s.jsonl",
		prefix, at.Format("2006-01-02"), at.Format("20060102T150405Z"))
}

// marshalJSONL serializes records as newline-delimited JSON.
func marshalJSONL(recs []domain.OpportunityRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %s: %w", rec.ID, err)
		}
	}
	return buf.Bytes(), nil
}
