// internal/repository/postgres/template_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/karhin20/flowback/internal/domain/action"
	"github.com/karhin20/flowback/internal/domain/template"
	xerrors "github.com/karhin20/flowback/internal/pkg/errors"
)

type TemplateRepository struct {
	db *pgxpool.Pool
}

func NewTemplateRepository(db *pgxpool.Pool) *TemplateRepository {
	return &TemplateRepository{db: db}
}

func (r *TemplateRepository) FindByAction(ctx context.Context, kind action.Kind) (*template.MessageTemplate, error) {
	query := `SELECT action, body, updated_at FROM message_templates WHERE action = $1`

	var t template.MessageTemplate
	err := r.db.QueryRow(ctx, query, kind).Scan(&t.Action, &t.Body, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", kind, xerrors.ErrTemplateNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find template: %w", err)
	}
	return &t, nil
}

func (r *TemplateRepository) List(ctx context.Context) ([]template.MessageTemplate, error) {
	rows, err := r.db.Query(ctx, `SELECT action, body, updated_at FROM message_templates ORDER BY action`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	out := []template.MessageTemplate{}
	for rows.Next() {
		var t template.MessageTemplate
		if err := rows.Scan(&t.Action, &t.Body, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Update upserts the body for one action.
func (r *TemplateRepository) Update(ctx context.Context, t *template.MessageTemplate) error {
	query := `
		INSERT INTO message_templates (action, body, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (action) DO UPDATE SET body = EXCLUDED.body, updated_at = NOW()
		RETURNING updated_at
	`
	if err := r.db.QueryRow(ctx, query, t.Action, t.Body).Scan(&t.UpdatedAt); err != nil {
		return fmt.Errorf("failed to update template: %w", mapError(err))
	}
	return nil
}
