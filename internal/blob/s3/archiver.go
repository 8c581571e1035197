package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/solwatch/copybot/internal/domain"
)

// multipartThreshold is the buffer size above which the archiver switches to
// multipart upload.
const multipartThreshold = 8 * 1024 * 1024

// Archiver moves aged records out of the primary store into cold storage:
// closed positions and sizing audits are serialized to NDJSON and uploaded
// under archive/{kind}/YYYY/MM/, one object per run. Each run gets its own
// object because the rows it covers are pruned afterwards; reusing a key
// across runs would overwrite rows that no longer exist anywhere else.
// Deletion from the primary store is a separate, explicit step (the Prune
// methods) run after the upload succeeded, never combined with it.
type Archiver struct {
	writer    *Writer
	positions domain.PositionStore
	audits    domain.SizingAuditStore
}

// NewArchiver creates an Archiver.
func NewArchiver(writer *Writer, positions domain.PositionStore, audits domain.SizingAuditStore) *Archiver {
	return &Archiver{
		writer:    writer,
		positions: positions,
		audits:    audits,
	}
}

// ArchivePositions uploads every closed position with an exit before the
// cutoff and returns the archived count. Nothing is deleted.
func (a *Archiver) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	until := before
	positions, err := a.positions.ListHistory(ctx, domain.ListOpts{Limit: 10000, Until: &until})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}

	closed := positions[:0:0]
	for _, p := range positions {
		if p.IsClosed() && p.ExitTime != nil && p.ExitTime.Before(before) {
			closed = append(closed, p)
		}
	}
	if len(closed) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(closed)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}
	if err := a.upload(ctx, archivePath("positions", before), buf); err != nil {
		return 0, err
	}
	return int64(len(closed)), nil
}

// PrunePositions deletes closed positions older than the cutoff. Run it only
// after ArchivePositions for the same cutoff has been verified.
func (a *Archiver) PrunePositions(ctx context.Context, before time.Time) (int64, error) {
	n, err := a.positions.DeleteClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: prune positions: %w", err)
	}
	return n, nil
}

// ArchiveAudits uploads every sizing audit created before the cutoff and
// returns the archived count. Nothing is deleted.
func (a *Archiver) ArchiveAudits(ctx context.Context, before time.Time) (int64, error) {
	audits, err := a.audits.List(ctx, domain.ListOpts{Limit: 10000})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audits query: %w", err)
	}

	aged := audits[:0:0]
	for _, rec := range audits {
		if rec.CreatedAt.Before(before) {
			aged = append(aged, rec)
		}
	}
	if len(aged) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(aged)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audits marshal: %w", err)
	}
	if err := a.upload(ctx, archivePath("sizing_audits", before), buf); err != nil {
		return 0, err
	}
	return int64(len(aged)), nil
}

// PruneAudits deletes sizing audits older than the cutoff after archival.
func (a *Archiver) PruneAudits(ctx context.Context, before time.Time) (int64, error) {
	n, err := a.audits.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: prune audits: %w", err)
	}
	return n, nil
}

func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if int64(len(buf)) >= multipartThreshold {
		if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize); err != nil {
			return fmt.Errorf("s3blob: archive upload %s: %w", path, err)
		}
		return nil
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive upload %s: %w", path, err)
	}
	return nil
}

// marshalJSONL serializes a slice of records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// archivePath builds the object key for one archive run, keyed by the run's
// cutoff so successive runs never collide, e.g.
// archive/positions/2026/08/20260831T060000Z.jsonl.
func archivePath(kind string, before time.Time) string {
	u := before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, u.Format("2006/01"), u.Format("20060102T150405Z"))
}
