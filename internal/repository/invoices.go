package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// InvoicesRepository exposes the invoice status transitions driven by payment
// provider webhooks. Every method is safe to re-apply: it reports changed=false
// when the invoice is already in the target (or a terminal) state.
type InvoicesRepository interface {
	Get(ctx context.Context, id string) (*model.Invoice, error)
	MarkPaid(ctx context.Context, id string) (changed bool, err error)
	MarkPaymentFailed(ctx context.Context, id string) (changed bool, err error)
}

type InvoicesRepositoryImpl struct {
	db *sqlx.DB
}

func NewInvoicesRepository(db *sqlx.DB) *InvoicesRepositoryImpl {
	return &InvoicesRepositoryImpl{db: db}
}

var _ InvoicesRepository = (*InvoicesRepositoryImpl)(nil)

func (r *InvoicesRepositoryImpl) Get(ctx context.Context, id string) (*model.Invoice, error) {
	var inv model.Invoice
	err := r.db.GetContext(ctx, &inv, `
		SELECT id, status, paid_at, updated_at
		  FROM invoices
		 WHERE id = ? LIMIT 1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// MarkPaid sets status=paid. paid_at keeps the first payment time.
func (r *InvoicesRepositoryImpl) MarkPaid(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE invoices
		   SET status = 'paid', paid_at = COALESCE(paid_at, NOW()), updated_at = NOW()
		 WHERE id = ? AND status <> 'paid'
	`, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// MarkPaymentFailed never downgrades a paid or void invoice, so a late
// failure notification cannot undo a later success.
func (r *InvoicesRepositoryImpl) MarkPaymentFailed(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE invoices
		   SET status = 'payment_failed', updated_at = NOW()
		 WHERE id = ? AND status NOT IN ('paid', 'void', 'payment_failed')
	`, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
