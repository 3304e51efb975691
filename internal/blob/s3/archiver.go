package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// Archiver implements domain.Archiver. Each kind is written once per day to
// archive/<YYYY-MM-DD>/<kind>.jsonl; an existing object is never replaced.
type Archiver struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	audit     domain.AuditStore
	multipart int64
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver. Payloads larger than multipartThreshold
// bytes go through the multipart uploader; zero disables it. audit may be
// nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore, multipartThreshold int64) *Archiver {
	return &Archiver{writer: writer, reader: reader, audit: audit, multipart: multipartThreshold}
}

// ArchiveRegistry writes the registry's markets for day.
func (a *Archiver) ArchiveRegistry(ctx context.Context, day time.Time, markets []domain.MarketInfo) (int64, error) {
	return archive(ctx, a, "registry", day, markets)
}

// ArchiveSpawns writes the spawn queue, processed entries included, for day.
func (a *Archiver) ArchiveSpawns(ctx context.Context, day time.Time, spawns []domain.PendingSpawn) (int64, error) {
	return archive(ctx, a, "spawns", day, spawns)
}

func archive[T any](ctx context.Context, a *Archiver, kind string, day time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	path := ArchivePath(kind, day)

	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}
	if exists {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	if a.multipart > 0 && int64(len(buf)) > a.multipart {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), MinPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"path":  path,
			"count": count,
			"day":   day.Format(time.DateOnly),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return count, nil
}

// ArchivePath returns the object key of kind's archive for day (UTC).
func ArchivePath(kind string, day time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", day.UTC().Format(time.DateOnly), kind)
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
