// internal/repository/postgres/tx.go
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/karhin20/flowback/internal/domain/action"
	"github.com/karhin20/flowback/internal/domain/customer"
)

// txStore implements customer.Tx on one open transaction.
type txStore struct {
	tx pgx.Tx
}

// FindByAccountNumberForUpdate locks the customer row until the transaction ends.
func (t *txStore) FindByAccountNumberForUpdate(ctx context.Context, accountNumber string) (*customer.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE account_number = $1 FOR UPDATE`

	c, err := scanCustomer(t.tx.QueryRow(ctx, query, accountNumber))
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

func (t *txStore) Create(ctx context.Context, c *customer.Customer) error {
	return createCustomer(ctx, t.tx, c)
}

// UpdateStatus sets status and moves updated_at strictly forward.
func (t *txStore) UpdateStatus(ctx context.Context, c *customer.Customer) error {
	query := `
		UPDATE customers
		SET status = $1, updated_at = GREATEST(NOW(), updated_at + interval '1 microsecond')
		WHERE id = $2
		RETURNING updated_at
	`
	if err := t.tx.QueryRow(ctx, query, c.Status, c.ID).Scan(&c.UpdatedAt); err != nil {
		return fmt.Errorf("failed to update customer status: %w", mapError(err))
	}
	return nil
}

func (t *txStore) UpdateArrears(ctx context.Context, c *customer.Customer) error {
	query := `
		UPDATE customers
		SET arrears = $1::numeric, updated_at = GREATEST(NOW(), updated_at + interval '1 microsecond')
		WHERE id = $2
		RETURNING updated_at
	`
	if err := t.tx.QueryRow(ctx, query, c.Arrears, c.ID).Scan(&c.UpdatedAt); err != nil {
		return fmt.Errorf("failed to update customer arrears: %w", mapError(err))
	}
	return nil
}

func (t *txStore) AppendAction(ctx context.Context, a *action.CustomerAction) error {
	return insertAction(ctx, t.tx, a)
}
