package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"paytrack/internal/infra/sqlite3"
	"paytrack/internal/stories/payment"
)

const retriesTable = "payment_retries"

var retryRowFields = fields(retryRow{})

type retryRow struct {
	OldPaymentID string    `db:"old_payment_id"`
	NewPaymentID string    `db:"new_payment_id"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r retryRow) ToModel() *payment.RetryLink {
	return &payment.RetryLink{
		OldPaymentID: r.OldPaymentID,
		NewPaymentID: r.NewPaymentID,
		CreatedAt:    r.CreatedAt,
	}
}

// CreateRetryLink records the replacement and marks the old snapshot as superseded
// in one transaction. A later replacement of the same payment overwrites the link.
func (s *storageImpl) CreateRetryLink(ctx context.Context, link payment.RetryLink) error {
	createdAt := link.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	insertQ, insertArgs, err := s.stmpBuilder().
		Insert(retriesTable).
		SetMap(map[string]interface{}{
			"old_payment_id": link.OldPaymentID,
			"new_payment_id": link.NewPaymentID,
			"created_at":     createdAt.UTC(),
		}).
		Suffix(`ON CONFLICT(old_payment_id) DO UPDATE SET
			new_payment_id = excluded.new_payment_id,
			created_at = excluded.created_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build sql query: %w", err)
	}

	updateQ, updateArgs, err := s.stmpBuilder().
		Update(snapshotsTable).
		Set("superseded_by", link.NewPaymentID).
		Where(sq.Eq{"payment_id": link.OldPaymentID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build sql query: %w", err)
	}

	return sqlite3.WithTx(ctx, s.db, nil, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, insertQ, insertArgs...); err != nil {
			return fmt.Errorf("insert retry link: %w", err)
		}
		if _, err := tx.ExecContext(ctx, updateQ, updateArgs...); err != nil {
			return fmt.Errorf("mark snapshot superseded: %w", err)
		}
		return nil
	})
}

func (s *storageImpl) GetRetryLink(ctx context.Context, oldPaymentID string) (*payment.RetryLink, error) {
	q, args, err := s.stmpBuilder().
		Select(retryRowFields).
		From(retriesTable).
		Where(sq.Eq{"old_payment_id": oldPaymentID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row retryRow
	if err := s.db.GetContext(ctx, &row, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return row.ToModel(), nil
}
