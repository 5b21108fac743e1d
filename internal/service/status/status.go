// internal/service/status/status.go
package status

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/karhin20/flowback/internal/domain/action"
	"github.com/karhin20/flowback/internal/domain/customer"
	"github.com/karhin20/flowback/internal/metrics"
	xerrors "github.com/karhin20/flowback/internal/pkg/errors"
)

// SystemActor is recorded when no operator identity is available.
const SystemActor = "system"

// Apply returns the status a customer ends up in after kind. Every transition
// is allowed; sms_sent leaves the status as it is.
func Apply(c *customer.Customer, kind action.Kind) (customer.Status, error) {
	if c == nil {
		return "", xerrors.ErrNotFound
	}
	switch kind {
	case action.KindConnect:
		return customer.StatusConnected, nil
	case action.KindDisconnect:
		return customer.StatusDisconnected, nil
	case action.KindWarn:
		return customer.StatusWarned, nil
	case action.KindSMSSent:
		return c.Status, nil
	}
	return "", fmt.Errorf("unknown action %q: %w", kind, xerrors.ErrInvalidInput)
}

// ApplyInput describes one logical action against one customer.
type ApplyInput struct {
	AccountNumber string
	Kind          action.Kind
	PerformedBy   string
	Source        action.Source
	BatchID       *string
	Reason        string

	// CreateMissing inserts NewCustomer (status connected) when the account
	// number does not resolve.
	CreateMissing bool
	NewCustomer   *customer.Customer

	// Arrears, when set, is written to an existing customer in the same unit.
	Arrears *string
}

// Outcome is the committed result of ApplyAction.
type Outcome struct {
	Customer        customer.Customer
	Action          action.CustomerAction
	PreviousStatus  customer.Status
	CustomerCreated bool
}

type Service struct {
	txm    customer.TxManager
	logger *zap.Logger
}

func NewService(txm customer.TxManager, logger *zap.Logger) *Service {
	return &Service{txm: txm, logger: logger}
}

// ApplyAction locks the customer, sets the new status and appends the ledger
// entry in one transaction. Either both writes commit or neither does.
func (s *Service) ApplyAction(ctx context.Context, in ApplyInput) (*Outcome, error) {
	if err := in.check(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.PerformedBy) == "" {
		in.PerformedBy = SystemActor
	}

	var out *Outcome
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx customer.Tx) error {
		created := false
		c, err := tx.FindByAccountNumberForUpdate(ctx, in.AccountNumber)
		switch {
		case errors.Is(err, xerrors.ErrNotFound):
			if !in.CreateMissing || in.NewCustomer == nil {
				return fmt.Errorf("customer %s: %w", in.AccountNumber, xerrors.ErrNotFound)
			}
			c = &customer.Customer{
				Name:          in.NewCustomer.Name,
				AccountNumber: in.AccountNumber,
				Phone:         in.NewCustomer.Phone,
				Arrears:       in.NewCustomer.Arrears,
				Status:        customer.StatusConnected,
			}
			if c.Arrears == "" {
				c.Arrears = "0.00"
			}
			if err := tx.Create(ctx, c); err != nil {
				return fmt.Errorf("create customer %s: %w", in.AccountNumber, err)
			}
			created = true
		case err != nil:
			return fmt.Errorf("lock customer %s: %w", in.AccountNumber, err)
		}

		previous := c.Status
		next, err := Apply(c, in.Kind)
		if err != nil {
			return err
		}
		if in.Kind.ChangesStatus() {
			c.Status = next
			if err := tx.UpdateStatus(ctx, c); err != nil {
				return fmt.Errorf("update status: %w", err)
			}
		}
		if in.Arrears != nil && !created && *in.Arrears != c.Arrears {
			c.Arrears = *in.Arrears
			if err := tx.UpdateArrears(ctx, c); err != nil {
				return fmt.Errorf("update arrears: %w", err)
			}
		}

		entry := &action.CustomerAction{
			CustomerID:  c.ID,
			Action:      in.Kind,
			PerformedBy: in.PerformedBy,
			Source:      in.Source,
			BatchID:     in.BatchID,
		}
		if in.Reason != "" {
			reason := in.Reason
			entry.Reason = &reason
		}
		if err := tx.AppendAction(ctx, entry); err != nil {
			return fmt.Errorf("append action: %w", err)
		}

		out = &Outcome{
			Customer:        *c,
			Action:          *entry,
			PreviousStatus:  previous,
			CustomerCreated: created,
		}
		return nil
	})
	if err != nil {
		return nil, s.classify(ctx, in, err)
	}

	metrics.StatusActions.WithLabelValues(string(in.Kind), string(in.Source)).Inc()
	s.logger.Info("action applied",
		zap.String("account_number", in.AccountNumber),
		zap.String("action", string(in.Kind)),
		zap.String("source", string(in.Source)),
		zap.String("previous_status", string(out.PreviousStatus)),
		zap.String("new_status", string(out.Customer.Status)),
		zap.Int64("action_id", out.Action.ID),
		zap.Bool("customer_created", out.CustomerCreated),
	)
	return out, nil
}

func (in ApplyInput) check() error {
	verr := xerrors.NewValidationError()
	if strings.TrimSpace(in.AccountNumber) == "" {
		verr.Add("account_number", "is required")
	}
	if !in.Kind.Valid() {
		verr.Add("action", "must be one of connect, disconnect, warn, sms_sent")
	}
	if !in.Source.Valid() {
		verr.Add("source", "must be manual or batch")
	}
	hasBatch := in.BatchID != nil && *in.BatchID != ""
	if in.Source == action.SourceBatch && !hasBatch {
		verr.Add("batch_id", "is required for batch actions")
	}
	if in.Source == action.SourceManual && hasBatch {
		verr.Add("batch_id", "must be empty for manual actions")
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}

// classify keeps caller-actionable kinds and folds everything else into a
// transaction failure.
func (s *Service) classify(ctx context.Context, in ApplyInput, err error) error {
	switch {
	case errors.Is(err, xerrors.ErrNotFound),
		errors.Is(err, xerrors.ErrConflict),
		errors.Is(err, xerrors.ErrValidation),
		errors.Is(err, xerrors.ErrInvalidInput):
		return err
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w: %v", xerrors.ErrCancelled, xerrors.ErrTransactionFailure, err)
	}
	s.logger.Error("action transaction failed",
		zap.String("account_number", in.AccountNumber),
		zap.String("action", string(in.Kind)),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %v", xerrors.ErrTransactionFailure, err)
}
