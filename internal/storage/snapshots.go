package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"paytrack/internal/stories/payment"
)

const snapshotsTable = "payment_snapshots"

var snapshotRowFields = fields(snapshotRow{})

type snapshotRow struct {
	PaymentID    string         `db:"payment_id"`
	Status       string         `db:"status"`
	Payload      []byte         `db:"payload"`
	SupersededBy sql.NullString `db:"superseded_by"`
	UpdatedAt    time.Time      `db:"updated_at"`
	FetchedAt    time.Time      `db:"fetched_at"`
}

func (r snapshotRow) ToModel() (*payment.Snapshot, error) {
	snapshot, err := payment.DecodeSnapshot(r.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", r.PaymentID, err)
	}
	snapshot.FetchedAt = r.FetchedAt
	return snapshot, nil
}

// SaveSnapshot upserts the last good snapshot of a payment. Older fetches never
// overwrite newer ones.
func (s *storageImpl) SaveSnapshot(ctx context.Context, snapshot payment.Snapshot) error {
	updatedAt := snapshot.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}
	fetchedAt := snapshot.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = s.now()
	}

	params := map[string]interface{}{
		"payment_id": snapshot.PaymentID,
		"status":     string(snapshot.Status),
		"payload":    payment.EncodeSnapshot(&snapshot),
		"updated_at": updatedAt.UTC(),
		"fetched_at": fetchedAt.UTC(),
	}

	q, args, err := s.stmpBuilder().
		Insert(snapshotsTable).
		SetMap(params).
		Suffix(`ON CONFLICT(payment_id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload,
			updated_at = excluded.updated_at,
			fetched_at = excluded.fetched_at
			WHERE excluded.fetched_at >= payment_snapshots.fetched_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build sql query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("db.ExecContext: %w", err)
	}

	return nil
}

func (s *storageImpl) GetSnapshot(ctx context.Context, paymentID string) (*payment.Snapshot, error) {
	q, args, err := s.stmpBuilder().
		Select(snapshotRowFields).
		From(snapshotsTable).
		Where(sq.Eq{"payment_id": paymentID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row snapshotRow
	if err := s.db.GetContext(ctx, &row, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return row.ToModel()
}
