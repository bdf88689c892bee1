package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Hrittik20/TSUSwap/internal/clock"
	"github.com/Hrittik20/TSUSwap/internal/store"
)

// ReportRepo implements store.ReportRepository with sqlx.
type ReportRepo struct {
	db  *sqlx.DB
	clk clock.Clock
}

func (r *ReportRepo) Create(ctx context.Context, rp *store.Report) error {
	if rp.ID == "" {
		rp.ID = uuid.NewString()
	}
	if rp.CreatedAt.IsZero() {
		rp.CreatedAt = r.clk.Now()
	}
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO reports (id, item_id, reporter_id, reason, description, status, created_at)
		 VALUES (:id, :item_id, :reporter_id, :reason, :description, :status, :created_at)`, rp)
	if err != nil {
		return fmt.Errorf("creating report: %w", mapErr(err))
	}
	return nil
}

func (r *ReportRepo) Exists(ctx context.Context, itemID, reporterID string) (bool, error) {
	var ok bool
	err := r.db.GetContext(ctx, &ok,
		`SELECT EXISTS (SELECT 1 FROM reports WHERE item_id = $1 AND reporter_id = $2)`, itemID, reporterID)
	if err != nil {
		return false, fmt.Errorf("checking report: %w", mapErr(err))
	}
	return ok, nil
}

func (r *ReportRepo) SetStatusForItem(ctx context.Context, itemID string, status store.ReportStatus) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE reports SET status = $1 WHERE item_id = $2`, status, itemID)
	if err != nil {
		return 0, fmt.Errorf("updating report status: %w", mapErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *ReportRepo) List(ctx context.Context, status store.ReportStatus) ([]store.Report, error) {
	var reports []store.Report
	err := r.db.SelectContext(ctx, &reports,
		`SELECT * FROM reports WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	return reports, nil
}
