// internal/service/ledger/ledger.go
package ledger

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/karhin20/flowback/internal/domain/action"
	"github.com/karhin20/flowback/internal/domain/customer"
	xerrors "github.com/karhin20/flowback/internal/pkg/errors"
	"github.com/karhin20/flowback/internal/service/status"
)

// Service is the read side of the action ledger plus the single-statement
// append used for notification entries. Status-changing entries are written
// through customer.Tx so they share the status update's transaction.
type Service struct {
	actions   action.Repository
	customers customer.Repository
	logger    *zap.Logger
}

func NewService(actions action.Repository, customers customer.Repository, logger *zap.Logger) *Service {
	return &Service{actions: actions, customers: customers, logger: logger}
}

// Append writes one entry on its own and returns its id.
func (s *Service) Append(ctx context.Context, a *action.CustomerAction) (int64, error) {
	if !a.Action.Valid() || !a.Source.Valid() {
		return 0, fmt.Errorf("append %q/%q: %w", a.Action, a.Source, xerrors.ErrInvalidInput)
	}
	if (a.Source == action.SourceBatch) != (a.BatchID != nil && *a.BatchID != "") {
		return 0, fmt.Errorf("batch id must be set iff source is batch: %w", xerrors.ErrInvalidInput)
	}
	if err := s.actions.Create(ctx, a); err != nil {
		return 0, fmt.Errorf("failed to append action: %w", err)
	}
	return a.ID, nil
}

// ListByCustomer returns a customer's history, newest first.
func (s *Service) ListByCustomer(ctx context.Context, customerID int64, page, pageSize int) (*action.ListResponse, error) {
	if _, err := s.customers.FindByID(ctx, customerID); err != nil {
		return nil, fmt.Errorf("customer %d: %w", customerID, err)
	}
	return s.ListAll(ctx, action.ListFilters{CustomerID: customerID, Page: page, PageSize: pageSize})
}

// ListAll returns ledger entries matching filters, newest first.
func (s *Service) ListAll(ctx context.Context, filters action.ListFilters) (*action.ListResponse, error) {
	filters.Normalize()
	for _, k := range filters.Kinds {
		if !k.Valid() {
			return nil, xerrors.NewValidationError(xerrors.FieldError{Field: "action", Message: fmt.Sprintf("unknown action %q", k)})
		}
	}
	if filters.Source != "" && !filters.Source.Valid() {
		return nil, xerrors.NewValidationError(xerrors.FieldError{Field: "source", Message: "must be manual or batch"})
	}
	if filters.From != nil && filters.To != nil && filters.To.Before(*filters.From) {
		return nil, xerrors.NewValidationError(xerrors.FieldError{Field: "to", Message: "must not be before from"})
	}
	filters.PerformedBy = strings.TrimSpace(filters.PerformedBy)

	list, total, err := s.actions.List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	if list == nil {
		list = []action.CustomerAction{}
	}

	totalPages := int(total) / filters.PageSize
	if int(total)%filters.PageSize > 0 {
		totalPages++
	}
	return &action.ListResponse{
		Actions:    list,
		Total:      total,
		Page:       filters.Page,
		PageSize:   filters.PageSize,
		TotalPages: totalPages,
	}, nil
}

// VerifyBatch reports what a batch wrote and whether each touched customer
// still carries the status its last batch action set.
func (s *Service) VerifyBatch(ctx context.Context, batchID string) (*action.BatchVerification, error) {
	entries, err := s.actions.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch actions: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("batch %s: %w", batchID, xerrors.ErrNotFound)
	}

	v := &action.BatchVerification{
		BatchID:      batchID,
		TotalActions: len(entries),
		ByKind:       make(map[action.Kind]int),
		Actions:      entries,
	}
	lastStatus := make(map[int64]action.Kind)
	for _, e := range entries {
		v.ByKind[e.Action]++
		if e.Action.ChangesStatus() {
			lastStatus[e.CustomerID] = e.Action
		}
	}

	seen := make(map[int64]bool)
	for _, e := range entries {
		if seen[e.CustomerID] {
			continue
		}
		seen[e.CustomerID] = true
		v.TotalCustomers++

		kind, ok := lastStatus[e.CustomerID]
		if !ok {
			continue
		}
		c, err := s.customers.FindByID(ctx, e.CustomerID)
		if err != nil {
			s.logger.Warn("batch customer missing", zap.String("batch_id", batchID), zap.Int64("customer_id", e.CustomerID), zap.Error(err))
			continue
		}
		if want, _ := status.Apply(c, kind); want == c.Status {
			v.CustomersInSync++
		}
	}
	v.VerificationPassed = v.CustomersInSync == len(lastStatus)
	return v, nil
}
