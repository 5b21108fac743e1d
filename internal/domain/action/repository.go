// internal/domain/action/repository.go
package action

import (
	"context"
	"time"
)

type Repository interface {
	// Create inserts a single ledger entry in its own statement.
	Create(ctx context.Context, a *CustomerAction) error
	ListByCustomer(ctx context.Context, customerID int64, page, pageSize int) ([]CustomerAction, int64, error)
	List(ctx context.Context, filters ListFilters) ([]CustomerAction, int64, error)
	ListByBatch(ctx context.Context, batchID string) ([]CustomerAction, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
}
