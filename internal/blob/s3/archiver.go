package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hivebot/hive/internal/domain"
)

// orderActivityKinds are the Activity kinds that constitute a strategy's
// order history, as opposed to its full activity log.
var orderActivityKinds = map[domain.ActivityKind]bool{
	domain.ActivityCreate: true,
	domain.ActivityCancel: true,
	domain.ActivityFill: true,
}

// Archiver implements domain.Archiver by paging a closed strategy's
// activity log out of durable storage, serializing it to JSONL, and
// uploading the result to S3. It is the Close Protocol's final step.
type Archiver struct {
	writer     domain.BlobWriter
	activities domain.ActivityStore
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, activities domain.ActivityStore) *Archiver {
	return &Archiver{writer: writer, activities: activities}
}

// ArchiveActivities pages strategyID's full activity log out of durable
// storage, serializes it to JSONL, and uploads it to
// archive/activities/<strategy_id>/<timestamp>.jsonl.
func (a *Archiver) ArchiveActivities(ctx context.Context, strategyID string) (int64, error) {
	records, err := a.listAll(ctx, strategyID)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive activities query: %w", err)
	}
	return a.upload(ctx, "activities", strategyID, records)
}

// ArchiveOrderHistory archives just the create/cancel/fill subset of
// strategyID's activity log to archive/orders/<strategy_id>/<timestamp>.jsonl.
func (a *Archiver) ArchiveOrderHistory(ctx context.Context, strategyID string) (int64, error) {
	records, err := a.listAll(ctx, strategyID)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive order history query: %w", err)
	}

	orders := make([]domain.Activity, 0, len(records))
	for _, r := range records {
		if orderActivityKinds[r.Kind] {
			orders = append(orders, r)
		}
	}
	return a.upload(ctx, "orders", strategyID, orders)
}

// listAll pages through every activity record for strategyID, oldest first.
func (a *Archiver) listAll(ctx context.Context, strategyID string) ([]domain.Activity, error) {
	const pageSize = 1000

	var all []domain.Activity
	offset := 0
	for {
		page, err := a.activities.ListByStrategy(ctx, strategyID, domain.ListOpts{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
		offset += pageSize
	}
	return all, nil
}

func (a *Archiver) upload(ctx context.Context, kind, strategyID string, records []domain.Activity) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, strategyID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	return int64(len(records)), nil
}

// archivePath builds the S3 key for a closed strategy's archive file:
//
//	archive/activities/<strategy_id>/2026-08-02T00-00-00Z.jsonl
//	archive/orders/<strategy_id>/2026-08-02T00-00-00Z.jsonl
func archivePath(kind, strategyID string) string {
	stamp := time.Now().UTC().Format("2006-01-02T15-04-05Z")
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, strategyID, stamp)
}

// marshalJSONL serializes a slice of values as newline-delimited JSON.
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
