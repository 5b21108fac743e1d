// internal/repository/postgres/customer_repo.go
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/karhin20/flowback/internal/domain/customer"
)

const customerColumns = `id, name, account_number, phone, status, arrears::text, created_at, updated_at`

type CustomerRepository struct {
	db *pgxpool.Pool
}

func NewCustomerRepository(db *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{db: db}
}

func scanCustomer(row pgx.Row) (*customer.Customer, error) {
	var c customer.Customer
	err := row.Scan(
		&c.ID, &c.Name, &c.AccountNumber, &c.Phone,
		&c.Status, &c.Arrears, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func createCustomer(ctx context.Context, q querier, c *customer.Customer) error {
	query := `
		INSERT INTO customers (name, account_number, phone, status, arrears)
		VALUES ($1, $2, $3, $4, $5::numeric)
		RETURNING id, created_at, updated_at
	`
	if c.Status == "" {
		c.Status = customer.StatusConnected
	}
	if c.Arrears == "" {
		c.Arrears = "0.00"
	}

	err := q.QueryRow(ctx, query,
		c.Name, c.AccountNumber, c.Phone, c.Status, c.Arrears,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create customer: %w", mapError(err))
	}
	return nil
}

// Create inserts a customer. A duplicate account number is ErrConflict.
func (r *CustomerRepository) Create(ctx context.Context, c *customer.Customer) error {
	return createCustomer(ctx, r.db, c)
}

// FindByID retrieves a customer by ID
func (r *CustomerRepository) FindByID(ctx context.Context, id int64) (*customer.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`

	c, err := scanCustomer(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

func (r *CustomerRepository) FindByAccountNumber(ctx context.Context, accountNumber string) (*customer.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE account_number = $1`

	c, err := scanCustomer(r.db.QueryRow(ctx, query, accountNumber))
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

// Update writes name, phone and arrears.
func (r *CustomerRepository) Update(ctx context.Context, c *customer.Customer) error {
	query := `
		UPDATE customers
		SET name = $1, phone = $2, arrears = $3::numeric,
		    updated_at = GREATEST(NOW(), updated_at + interval '1 microsecond')
		WHERE id = $4
		RETURNING ` + customerColumns

	updated, err := scanCustomer(r.db.QueryRow(ctx, query, c.Name, c.Phone, c.Arrears, c.ID))
	if err != nil {
		return mapError(err)
	}
	*c = *updated
	return nil
}

// Delete removes the customer; its ledger entries go with it.
func (r *CustomerRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete customer: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows)
	}
	return nil
}

// List retrieves customers with filters
func (r *CustomerRepository) List(ctx context.Context, filters customer.ListFilters) ([]customer.Customer, int64, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}
	argPos := 1

	if filters.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, filters.Status)
		argPos++
	}
	if filters.Search != "" {
		conditions = append(conditions, fmt.Sprintf(
			"(name ILIKE $%d OR account_number ILIKE $%d OR phone ILIKE $%d)",
			argPos, argPos, argPos,
		))
		args = append(args, "%"+filters.Search+"%")
		argPos++
	}
	whereClause := strings.Join(conditions, " AND ")

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM customers WHERE %s", whereClause)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count customers: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM customers
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, customerColumns, whereClause, argPos, argPos+1)
	args = append(args, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	customers := []customer.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, *c)
	}
	return customers, total, rows.Err()
}

func (r *CustomerRepository) Stats(ctx context.Context) (*customer.Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'connected'),
			COUNT(*) FILTER (WHERE status = 'disconnected'),
			COUNT(*) FILTER (WHERE status = 'warned'),
			COALESCE(SUM(arrears), 0)::numeric(14,2)::text,
			(SELECT COUNT(*) FROM customer_actions WHERE created_at >= date_trunc('day', NOW()))
		FROM customers
	`

	var s customer.Stats
	err := r.db.QueryRow(ctx, query).Scan(
		&s.TotalCustomers, &s.ConnectedCustomers, &s.DisconnectedCustomers,
		&s.WarnedCustomers, &s.TotalArrears, &s.ActionsToday,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer stats: %w", err)
	}
	return &s, nil
}
