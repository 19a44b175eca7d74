// Package finance is the read side used by finance staff: dashboards, exports
// and the batch reimbursement that closes the expense workflow.
package finance

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// ExpenseSummary is one expense row joined with its submitter.
type ExpenseSummary struct {
	ID             string          `db:"id" json:"id"`
	UserID         string          `db:"user_id" json:"userId"`
	SubmitterName  string          `db:"submitter_name" json:"submitterName"`
	SubmitterEmail string          `db:"submitter_email" json:"submitterEmail"`
	OrganizationID *string         `db:"organization_id" json:"organizationId"`
	Title          string          `db:"title" json:"title"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"totalAmount"`
	State          string          `db:"state" json:"state"`
	Version        int64           `db:"version" json:"version"`
	CreatedAt      time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updatedAt"`
}

func (s ExpenseSummary) IsPersonal() bool {
	return s.OrganizationID == nil
}

const summaryColumns = `
	SELECT e.id, e.user_id,
		COALESCE(u.name, '') AS submitter_name,
		COALESCE(u.email, '') AS submitter_email,
		e.organization_id, e.title, e.total_amount, e.state, e.version,
		e.created_at, e.updated_at
	FROM expenses e
	LEFT JOIN users u ON u.id = e.user_id`

// Query reads expenses through sqlx. It never writes.
type Query struct {
	db *sqlx.DB
}

func NewQuery(db *sqlx.DB) *Query {
	return &Query{db: db}
}

func (q *Query) ListByStatusAndOrganization(ctx context.Context, status, orgID string) ([]ExpenseSummary, error) {
	query := q.db.Rebind(summaryColumns + `
	WHERE e.state = ? AND e.organization_id = ? AND e.deleted_at IS NULL
	ORDER BY e.updated_at ASC, e.id ASC`)

	rows := []ExpenseSummary{}
	if err := q.db.SelectContext(ctx, &rows, query, status, orgID); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListByIDs loads non-deleted expenses with the given ids, in no particular order.
func (q *Query) ListByIDs(ctx context.Context, ids []string) ([]ExpenseSummary, error) {
	rows := []ExpenseSummary{}
	if len(ids) == 0 {
		return rows, nil
	}

	query, args, err := sqlx.In(summaryColumns+`
	WHERE e.id IN (?) AND e.deleted_at IS NULL
	ORDER BY e.created_at ASC, e.id ASC`, ids)
	if err != nil {
		return nil, err
	}
	if err := q.db.SelectContext(ctx, &rows, q.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// TotalPayout sums the totals of rows.
func TotalPayout(rows []ExpenseSummary) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.TotalAmount)
	}
	return total
}
