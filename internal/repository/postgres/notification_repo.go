// internal/repository/postgres/notification_repo.go
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/karhin20/flowback/internal/domain/notification"
)

// DeliveryRepository stores SMS delivery attempts.
type DeliveryRepository struct {
	db *pgxpool.Pool
}

func NewDeliveryRepository(db *pgxpool.Pool) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// Create records one delivery attempt
func (r *DeliveryRepository) Create(ctx context.Context, d *notification.Delivery) error {
	query := `
		INSERT INTO sms_deliveries (
			customer_id, phone, message, provider_message_id, status,
			error, source, batch_id, sms_action_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(
		ctx, query,
		d.CustomerID, d.Phone, d.Message, d.ProviderMessageID, d.Status,
		d.Error, d.Source, d.BatchID, d.SMSActionID,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", mapError(err))
	}
	return nil
}

// List retrieves deliveries newest first
func (r *DeliveryRepository) List(ctx context.Context, filters notification.DeliveryListFilters) ([]notification.Delivery, int64, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}
	argPos := 1

	if filters.CustomerID != 0 {
		conditions = append(conditions, fmt.Sprintf("customer_id = $%d", argPos))
		args = append(args, filters.CustomerID)
		argPos++
	}
	if filters.BatchID != "" {
		conditions = append(conditions, fmt.Sprintf("batch_id = $%d", argPos))
		args = append(args, filters.BatchID)
		argPos++
	}
	if filters.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, filters.Status)
		argPos++
	}
	whereClause := strings.Join(conditions, " AND ")

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM sms_deliveries WHERE %s", whereClause)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count deliveries: %w", err)
	}

	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.PageSize < 1 {
		filters.PageSize = 20
	}
	query := fmt.Sprintf(`
		SELECT id, customer_id, phone, message, provider_message_id, status,
		       error, source, batch_id, sms_action_id, created_at
		FROM sms_deliveries
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argPos, argPos+1)
	args = append(args, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := []notification.Delivery{}
	for rows.Next() {
		var d notification.Delivery
		if err := rows.Scan(
			&d.ID, &d.CustomerID, &d.Phone, &d.Message, &d.ProviderMessageID, &d.Status,
			&d.Error, &d.Source, &d.BatchID, &d.SMSActionID, &d.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, total, rows.Err()
}
