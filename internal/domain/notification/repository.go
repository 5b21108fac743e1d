// internal/domain/notification/repository.go
package notification

import "context"

type Repository interface {
	Create(ctx context.Context, d *Delivery) error
	List(ctx context.Context, filters DeliveryListFilters) ([]Delivery, int64, error)
}
