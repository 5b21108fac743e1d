// internal/service/customer/customer.go
package customer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/karhin20/flowback/internal/domain/action"
	"github.com/karhin20/flowback/internal/domain/customer"
	"github.com/karhin20/flowback/internal/domain/notification"
	"github.com/karhin20/flowback/internal/domain/websocket"
	xerrors "github.com/karhin20/flowback/internal/pkg/errors"
	"github.com/karhin20/flowback/internal/service/status"
	"github.com/karhin20/flowback/internal/service/validator"
)

type Applier interface {
	ApplyAction(ctx context.Context, in status.ApplyInput) (*status.Outcome, error)
}

type Notifier interface {
	NotifyAction(ctx context.Context, c *customer.Customer, kind action.Kind, p notification.Provenance) (*notification.DeliveryResult, error)
}

type CustomerService struct {
	customerRepo customer.Repository
	applier      Applier
	notifier     Notifier
	publisher    websocket.Publisher
	logger       *zap.Logger
}

func NewCustomerService(customerRepo customer.Repository, applier Applier, notifier Notifier, publisher websocket.Publisher, logger *zap.Logger) *CustomerService {
	if publisher == nil {
		publisher = websocket.NopPublisher{}
	}
	return &CustomerService{
		customerRepo: customerRepo,
		applier:      applier,
		notifier:     notifier,
		publisher:    publisher,
		logger:       logger,
	}
}

// CreateCustomer stores a new customer. Account numbers are unique.
func (s *CustomerService) CreateCustomer(ctx context.Context, req *customer.CreateCustomerRequest) (*customer.Customer, error) {
	verr := xerrors.NewValidationError()

	name := strings.Join(strings.Fields(req.Name), " ")
	if len(name) < 2 {
		verr.Add("name", "must be at least 2 characters")
	}
	accountNumber := validator.NormalizeAccountNumber(req.AccountNumber)
	if accountNumber == "" {
		verr.Add("account_number", "is required")
	}
	phone, ok := validator.NormalizePhone(req.Phone)
	if !ok {
		verr.Add("phone", "invalid phone number format, use 0XX XXX XXXX")
	}
	arrears, err := validator.NormalizeAmount(req.Arrears)
	if err != nil {
		verr.Add("arrears", err.Error())
	}
	st := req.Status
	if st == "" {
		st = customer.StatusConnected
	}
	if !st.Valid() {
		verr.Add("status", "must be one of connected, disconnected, warned")
	}
	if verr.HasErrors() {
		return nil, verr
	}

	c := &customer.Customer{
		Name:          name,
		AccountNumber: accountNumber,
		Phone:         phone,
		Arrears:       arrears,
		Status:        st,
	}
	if err := s.customerRepo.Create(ctx, c); err != nil {
		if errors.Is(err, xerrors.ErrConflict) {
			return nil, fmt.Errorf("customer with account number %s already exists: %w", accountNumber, err)
		}
		s.logger.Error("failed to create customer", zap.Error(err))
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}

	s.logger.Info("customer created",
		zap.Int64("customer_id", c.ID),
		zap.String("account_number", c.AccountNumber),
	)
	s.publisher.Publish(websocket.ChannelCustomers, websocket.EventTypeCustomerCreated, c)
	return c, nil
}

func (s *CustomerService) GetCustomer(ctx context.Context, customerID int64) (*customer.Customer, error) {
	return s.customerRepo.FindByID(ctx, customerID)
}

func (s *CustomerService) GetCustomerByAccountNumber(ctx context.Context, accountNumber string) (*customer.Customer, error) {
	return s.customerRepo.FindByAccountNumber(ctx, validator.NormalizeAccountNumber(accountNumber))
}

// ListCustomers returns one page of customers, newest first.
func (s *CustomerService) ListCustomers(ctx context.Context, filters *customer.ListFilters) (*customer.ListResponse, error) {
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.PageSize < 1 {
		filters.PageSize = 20
	}
	if filters.PageSize > 100 {
		filters.PageSize = 100
	}
	if filters.Status != "" && !filters.Status.Valid() {
		return nil, xerrors.NewValidationError(xerrors.FieldError{Field: "status", Message: "must be one of connected, disconnected, warned"})
	}
	filters.Search = strings.TrimSpace(filters.Search)

	customers, total, err := s.customerRepo.List(ctx, *filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	if customers == nil {
		customers = []customer.Customer{}
	}

	totalPages := int(total) / filters.PageSize
	if int(total)%filters.PageSize > 0 {
		totalPages++
	}

	return &customer.ListResponse{
		Customers:  customers,
		Total:      total,
		Page:       filters.Page,
		PageSize:   filters.PageSize,
		TotalPages: totalPages,
	}, nil
}

// UpdateCustomer changes name, phone or arrears. Status is only changed
// through ApplyAction.
func (s *CustomerService) UpdateCustomer(ctx context.Context, customerID int64, req *customer.UpdateCustomerRequest) (*customer.Customer, error) {
	c, err := s.customerRepo.FindByID(ctx, customerID)
	if err != nil {
		return nil, err
	}

	verr := xerrors.NewValidationError()
	if req.Name != nil {
		name := strings.Join(strings.Fields(*req.Name), " ")
		if len(name) < 2 {
			verr.Add("name", "must be at least 2 characters")
		}
		c.Name = name
	}
	if req.Phone != nil {
		phone, ok := validator.NormalizePhone(*req.Phone)
		if !ok {
			verr.Add("phone", "invalid phone number format, use 0XX XXX XXXX")
		}
		c.Phone = phone
	}
	if req.Arrears != nil {
		arrears, err := validator.NormalizeAmount(*req.Arrears)
		if err != nil {
			verr.Add("arrears", err.Error())
		}
		c.Arrears = arrears
	}
	if verr.HasErrors() {
		return nil, verr
	}

	if err := s.customerRepo.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to update customer: %w", err)
	}

	s.logger.Info("customer updated", zap.Int64("customer_id", c.ID))
	s.publisher.Publish(websocket.ChannelCustomers, websocket.EventTypeCustomerUpdated, c)
	return c, nil
}

// DeleteCustomer removes the customer together with its ledger.
func (s *CustomerService) DeleteCustomer(ctx context.Context, customerID int64) error {
	if err := s.customerRepo.Delete(ctx, customerID); err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete customer: %w", err)
	}
	s.logger.Info("customer deleted", zap.Int64("customer_id", customerID))
	s.publisher.Publish(websocket.ChannelCustomers, websocket.EventTypeCustomerDeleted, map[string]int64{"id": customerID})
	return nil
}

func (s *CustomerService) GetStats(ctx context.Context) (*customer.Stats, error) {
	stats, err := s.customerRepo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}
	return stats, nil
}

// ApplyAction is the manual counterpart of a batch row: one transactional
// status change recorded with source manual, then an optional notification.
func (s *CustomerService) ApplyAction(ctx context.Context, accountNumber string, kind action.Kind, performedBy, reason string, notify bool) (*customer.ActionResult, error) {
	if !kind.ChangesStatus() {
		return nil, xerrors.NewValidationError(xerrors.FieldError{Field: "action", Message: "must be one of connect, disconnect, warn"})
	}
	accountNumber = validator.NormalizeAccountNumber(accountNumber)
	if accountNumber == "" {
		return nil, xerrors.NewValidationError(xerrors.FieldError{Field: "account_number", Message: "is required"})
	}

	out, err := s.applier.ApplyAction(ctx, status.ApplyInput{
		AccountNumber: accountNumber,
		Kind:          kind,
		PerformedBy:   performedBy,
		Source:        action.SourceManual,
		Reason:        strings.TrimSpace(reason),
	})
	if err != nil {
		return nil, err
	}

	res := &customer.ActionResult{
		Customer:       &out.Customer,
		Action:         &out.Action,
		PreviousStatus: out.PreviousStatus,
	}
	s.publisher.Publish(websocket.ChannelCustomers, websocket.EventTypeCustomerUpdated, res.Customer)
	s.publisher.Publish(websocket.ChannelActions, websocket.EventTypeActionCreated, res.Action)

	if notify && s.notifier != nil {
		sent, err := s.notifier.NotifyAction(ctx, res.Customer, kind, notification.Provenance{
			Source:      action.SourceManual,
			PerformedBy: res.Action.PerformedBy,
		})
		if sent != nil {
			res.Notified = true
			res.MessageID = sent.MessageID
		}
		if err != nil {
			res.NotificationError = err.Error()
			s.logger.Warn("action notification failed",
				zap.String("account_number", accountNumber),
				zap.String("action", string(kind)),
				zap.Error(err),
			)
		}
	}
	return res, nil
}
