// internal/domain/customer/repository.go
package customer

import (
	"context"

	"github.com/karhin20/flowback/internal/domain/action"
)

type Repository interface {
	Create(ctx context.Context, c *Customer) error
	FindByID(ctx context.Context, id int64) (*Customer, error)
	FindByAccountNumber(ctx context.Context, accountNumber string) (*Customer, error)
	Update(ctx context.Context, c *Customer) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, filters ListFilters) ([]Customer, int64, error)
	Stats(ctx context.Context) (*Stats, error)
}

// Tx is the storage view inside one atomic unit. The customer row returned by
// FindByAccountNumberForUpdate stays locked until the unit ends.
type Tx interface {
	FindByAccountNumberForUpdate(ctx context.Context, accountNumber string) (*Customer, error)
	Create(ctx context.Context, c *Customer) error
	UpdateStatus(ctx context.Context, c *Customer) error
	UpdateArrears(ctx context.Context, c *Customer) error
	AppendAction(ctx context.Context, a *action.CustomerAction) error
}

// TxManager runs fn in one transaction. A non-nil error from fn rolls
// everything back.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
