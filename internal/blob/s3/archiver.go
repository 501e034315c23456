package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 8 * 1024 * 1024
)

// HistoryArchiver implements domain.Archiver. One UTC day of execution
// history becomes one JSONL object at
// archive/execution_history/YYYY/MM/DD.jsonl. Rows are not deleted from the
// primary store.
type HistoryArchiver struct {
	history domain.HistoryStore
	writer  domain.BlobWriter
	reader  domain.BlobReader
	audit   domain.AuditStore
	now     func() time.Time
	logger  *slog.Logger

	mu   sync.Mutex
	last string
}

// NewArchiver creates a HistoryArchiver. audit may be nil.
func NewArchiver(
	history domain.HistoryStore,
	writer domain.BlobWriter,
	reader domain.BlobReader,
	audit domain.AuditStore,
	logger *slog.Logger,
) *HistoryArchiver {
	return &HistoryArchiver{
		history: history,
		writer:  writer,
		reader:  reader,
		audit:   audit,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// WithClock replaces the clock used by RunDaily.
func (a *HistoryArchiver) WithClock(now func() time.Time) *HistoryArchiver {
	a.now = now
	return a
}

// ArchiveDay uploads the records closed on day's UTC date and returns how
// many were written. A day that is already archived is skipped.
func (a *HistoryArchiver) ArchiveDay(ctx context.Context, day time.Time) (int64, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	path := archivePath(from)

	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", path, err)
	}
	if exists {
		return 0, nil
	}

	records, err := a.history.ListBetween(ctx, from, from.AddDate(0, 0, 1))
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive history query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive history marshal: %w", err)
	}
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive history upload: %w", err)
	}

	count := int64(len(records))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.execution_history", map[string]any{
			"path":  path,
			"count": count,
			"day":   from.Format(time.DateOnly),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}
	a.logger.InfoContext(ctx, "execution history archived",
		slog.String("path", path),
		slog.Int64("count", count),
	)
	return count, nil
}

// RunDaily archives the previous UTC day at most once per day. It is meant
// to run on every housekeeping tick.
func (a *HistoryArchiver) RunDaily(ctx context.Context) error {
	yesterday := a.now().UTC().AddDate(0, 0, -1)
	key := yesterday.Format(time.DateOnly)

	a.mu.Lock()
	done := a.last == key
	a.mu.Unlock()
	if done {
		return nil
	}

	if _, err := a.ArchiveDay(ctx, yesterday); err != nil {
		return err
	}
	a.mu.Lock()
	a.last = key
	a.mu.Unlock()
	return nil
}

// archivePath is the object path for one UTC day.
func archivePath(day time.Time) string {
	return fmt.Sprintf("archive/execution_history/%s.jsonl", day.Format("2006/01/02"))
}

// marshalJSONL encodes records as newline-delimited JSON.
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

var _ domain.Archiver = (*HistoryArchiver)(nil)
