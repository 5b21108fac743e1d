// internal/repository/postgres/action_repo.go
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/karhin20/flowback/internal/domain/action"
)

const actionColumns = `id, customer_id, action, performed_by, source, batch_id, reason, created_at`

type ActionRepository struct {
	db *pgxpool.Pool
}

func NewActionRepository(db *pgxpool.Pool) *ActionRepository {
	return &ActionRepository{db: db}
}

func insertAction(ctx context.Context, q querier, a *action.CustomerAction) error {
	query := `
		INSERT INTO customer_actions (customer_id, action, performed_by, source, batch_id, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := q.QueryRow(ctx, query,
		a.CustomerID, a.Action, a.PerformedBy, a.Source, a.BatchID, a.Reason,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append action: %w", mapError(err))
	}
	return nil
}

func scanActions(rows pgx.Rows) ([]action.CustomerAction, error) {
	defer rows.Close()

	out := []action.CustomerAction{}
	for rows.Next() {
		var a action.CustomerAction
		if err := rows.Scan(
			&a.ID, &a.CustomerID, &a.Action, &a.PerformedBy,
			&a.Source, &a.BatchID, &a.Reason, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *ActionRepository) Create(ctx context.Context, a *action.CustomerAction) error {
	return insertAction(ctx, r.db, a)
}

func (r *ActionRepository) ListByCustomer(ctx context.Context, customerID int64, page, pageSize int) ([]action.CustomerAction, int64, error) {
	return r.List(ctx, action.ListFilters{CustomerID: customerID, Page: page, PageSize: pageSize})
}

// List returns ledger entries newest first.
func (r *ActionRepository) List(ctx context.Context, f action.ListFilters) ([]action.CustomerAction, int64, error) {
	f.Normalize()

	conditions := []string{"1=1"}
	args := []interface{}{}
	argPos := 1
	add := func(cond string, v interface{}) {
		conditions = append(conditions, fmt.Sprintf(cond, argPos))
		args = append(args, v)
		argPos++
	}

	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		add("action = ANY($%d)", kinds)
	}
	if f.Source != "" {
		add("source = $%d", f.Source)
	}
	if f.PerformedBy != "" {
		add("performed_by = $%d", f.PerformedBy)
	}
	if f.BatchID != "" {
		add("batch_id = $%d", f.BatchID)
	}
	if f.CustomerID != 0 {
		add("customer_id = $%d", f.CustomerID)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}
	whereClause := strings.Join(conditions, " AND ")

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM customer_actions WHERE %s", whereClause)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count actions: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM customer_actions
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, actionColumns, whereClause, argPos, argPos+1)
	args = append(args, f.PageSize, f.Offset())

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list actions: %w", err)
	}
	list, err := scanActions(rows)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// ListByBatch returns every entry of one batch in insertion order.
func (r *ActionRepository) ListByBatch(ctx context.Context, batchID string) ([]action.CustomerAction, error) {
	query := `SELECT ` + actionColumns + ` FROM customer_actions WHERE batch_id = $1 ORDER BY id`

	rows, err := r.db.Query(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch actions: %w", err)
	}
	return scanActions(rows)
}

func (r *ActionRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM customer_actions WHERE created_at >= $1`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count actions: %w", err)
	}
	return n, nil
}
