// internal/service/notification/service.go
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/karhin20/flowback/internal/domain/action"
	"github.com/karhin20/flowback/internal/domain/customer"
	"github.com/karhin20/flowback/internal/domain/notification"
	"github.com/karhin20/flowback/internal/domain/websocket"
	"github.com/karhin20/flowback/internal/metrics"
	xerrors "github.com/karhin20/flowback/internal/pkg/errors"
	"github.com/karhin20/flowback/internal/service/sms"
	tmpl "github.com/karhin20/flowback/internal/service/template"
	"github.com/karhin20/flowback/internal/service/validator"
)

// Provider is the SMS transport plus the provider-specific extras.
type Provider interface {
	sms.Sender
	SendBulk(ctx context.Context, phones []string, body string) (chunks, failed int, err error)
	Status(ctx context.Context, messageID string) (map[string]interface{}, error)
}

// ActionAppender writes a standalone ledger entry.
type ActionAppender interface {
	Append(ctx context.Context, a *action.CustomerAction) (int64, error)
}

// Renderer resolves an action kind to a message body.
type Renderer interface {
	Render(ctx context.Context, kind action.Kind, f tmpl.Fields) (string, error)
}

type Config struct {
	Timeout  time.Duration
	Currency string
}

// Dispatcher sends SMS, records every attempt and audits accepted messages
// as sms_sent ledger entries.
type Dispatcher struct {
	provider   Provider
	customers  customer.Repository
	ledger     ActionAppender
	deliveries notification.Repository
	templates  Renderer
	publisher  websocket.Publisher
	cfg        Config
	logger     *zap.Logger
}

func NewDispatcher(
	provider Provider,
	customers customer.Repository,
	ledger ActionAppender,
	deliveries notification.Repository,
	templates Renderer,
	publisher websocket.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if publisher == nil {
		publisher = websocket.NopPublisher{}
	}
	return &Dispatcher{
		provider:   provider,
		customers:  customers,
		ledger:     ledger,
		deliveries: deliveries,
		templates:  templates,
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger,
	}
}

// Send delivers message to the customer's phone within the configured
// timeout. Transport problems come back as ErrTransportFailure or
// ErrTransportTimeout. When the message was accepted but the sms_sent entry
// could not be written, both a result and an error are returned.
func (d *Dispatcher) Send(ctx context.Context, c *customer.Customer, message string, p notification.Provenance) (*notification.DeliveryResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, xerrors.NewValidationError(xerrors.FieldError{Field: "message", Message: "is required"})
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	res, err := d.provider.Send(sendCtx, c.Phone, message)
	timedOut := errors.Is(sendCtx.Err(), context.DeadlineExceeded)
	cancel()

	customerID := c.ID
	delivery := &notification.Delivery{
		CustomerID: &customerID,
		Phone:      c.Phone,
		Message:    message,
		Source:     p.Source,
		BatchID:    p.BatchID,
	}

	if err != nil {
		err = transportError(err, timedOut)
		delivery.Status = notification.StatusFailed
		delivery.Error = strPtr(err.Error())
		d.record(ctx, delivery)
		d.observe(err)
		d.logger.Warn("sms dispatch failed",
			zap.Int64("customer_id", c.ID),
			zap.String("account_number", c.AccountNumber),
			zap.Error(err),
		)
		return nil, err
	}

	if !res.Accepted {
		err := fmt.Errorf("%w: provider rejected message: %s", xerrors.ErrTransportFailure, res.Detail)
		delivery.Status = notification.StatusRejected
		delivery.ProviderMessageID = optional(res.ProviderMessageID)
		delivery.Error = strPtr(res.Detail)
		d.record(ctx, delivery)
		metrics.Notifications.WithLabelValues(string(notification.StatusRejected)).Inc()
		d.logger.Warn("sms rejected by provider",
			zap.Int64("customer_id", c.ID),
			zap.String("detail", res.Detail),
		)
		return nil, err
	}

	metrics.Notifications.WithLabelValues(string(notification.StatusAccepted)).Inc()
	result := &notification.DeliveryResult{
		MessageID: res.ProviderMessageID,
		Status:    notification.StatusAccepted,
	}

	entry := &action.CustomerAction{
		CustomerID:  c.ID,
		Action:      action.KindSMSSent,
		PerformedBy: p.PerformedBy,
		Source:      p.Source,
		BatchID:     p.BatchID,
	}
	var auditErr error
	if _, err := d.ledger.Append(ctx, entry); err != nil {
		auditErr = fmt.Errorf("%w: record sms_sent: %v", xerrors.ErrTransactionFailure, err)
		d.logger.Error("sms sent but ledger append failed",
			zap.Int64("customer_id", c.ID),
			zap.String("message_id", res.ProviderMessageID),
			zap.Error(err),
		)
	} else {
		actionID := entry.ID
		result.SMSActionID = actionID
		delivery.SMSActionID = &actionID
		d.publisher.Publish(websocket.ChannelActions, websocket.EventTypeActionCreated, entry)
	}

	delivery.Status = notification.StatusAccepted
	delivery.ProviderMessageID = optional(res.ProviderMessageID)
	d.record(ctx, delivery)
	result.DeliveryID = delivery.ID

	d.logger.Info("sms sent",
		zap.Int64("customer_id", c.ID),
		zap.String("message_id", res.ProviderMessageID),
		zap.String("source", string(p.Source)),
	)
	return result, auditErr
}

// NotifyAction renders the template for kind against c and sends it.
func (d *Dispatcher) NotifyAction(ctx context.Context, c *customer.Customer, kind action.Kind, p notification.Provenance) (*notification.DeliveryResult, error) {
	msg, err := d.templates.Render(ctx, kind, tmpl.FieldsFor(c, d.cfg.Currency))
	if err != nil {
		return nil, err
	}
	return d.Send(ctx, c, msg, p)
}

// SendCustom sends an operator-written message to one customer.
func (d *Dispatcher) SendCustom(ctx context.Context, customerID int64, message, performedBy string) (*notification.DeliveryResult, error) {
	c, err := d.customers.FindByID(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("customer %d: %w", customerID, err)
	}
	return d.Send(ctx, c, message, notification.Provenance{Source: action.SourceManual, PerformedBy: performedBy})
}

// SendTemplate sends the template for kind to one customer without changing
// their status.
func (d *Dispatcher) SendTemplate(ctx context.Context, customerID int64, kind action.Kind, performedBy string) (*notification.DeliveryResult, error) {
	c, err := d.customers.FindByID(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("customer %d: %w", customerID, err)
	}
	return d.NotifyAction(ctx, c, kind, notification.Provenance{Source: action.SourceManual, PerformedBy: performedBy})
}

// SendBulk sends one message to many phone numbers. Invalid numbers are
// skipped and reported. Bulk messages are not tied to customers, so they
// produce no ledger entries.
func (d *Dispatcher) SendBulk(ctx context.Context, req notification.BulkSendRequest) (*notification.BulkSendResult, error) {
	out := &notification.BulkSendResult{}
	seen := make(map[string]bool, len(req.Phones))
	phones := make([]string, 0, len(req.Phones))
	for _, raw := range req.Phones {
		p, ok := validator.NormalizePhone(raw)
		if !ok {
			out.Invalid = append(out.Invalid, raw)
			continue
		}
		if !seen[p] {
			seen[p] = true
			phones = append(phones, p)
		}
	}
	if len(phones) == 0 {
		return nil, xerrors.NewValidationError(xerrors.FieldError{Field: "phones", Message: "no valid phone numbers"})
	}

	chunks, failed, err := d.provider.SendBulk(ctx, phones, req.Message)
	out.Recipients = len(phones)
	out.Chunks = chunks
	out.Failed = failed
	if err != nil {
		d.observe(err)
		return out, err
	}
	d.logger.Info("bulk sms sent", zap.Int("recipients", len(phones)), zap.Int("chunks", chunks), zap.Int("failed", failed))
	return out, nil
}

// Status returns the provider's delivery report.
func (d *Dispatcher) Status(ctx context.Context, messageID string) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	return d.provider.Status(ctx, messageID)
}

// ListDeliveries pages through recorded dispatch attempts.
func (d *Dispatcher) ListDeliveries(ctx context.Context, filters notification.DeliveryListFilters) (*notification.DeliveryListResponse, error) {
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.PageSize < 1 || filters.PageSize > action.MaxPageSize {
		filters.PageSize = action.DefaultPageSize
	}
	list, total, err := d.deliveries.List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	if list == nil {
		list = []notification.Delivery{}
	}
	totalPages := int(total) / filters.PageSize
	if int(total)%filters.PageSize > 0 {
		totalPages++
	}
	return &notification.DeliveryListResponse{
		Deliveries: list,
		Total:      total,
		Page:       filters.Page,
		PageSize:   filters.PageSize,
		TotalPages: totalPages,
	}, nil
}

func (d *Dispatcher) record(ctx context.Context, delivery *notification.Delivery) {
	// The caller's context may be the one that just expired.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.deliveries.Create(ctx, delivery); err != nil {
		d.logger.Warn("failed to record sms delivery", zap.String("phone", delivery.Phone), zap.Error(err))
	}
}

func (d *Dispatcher) observe(err error) {
	label := "failed"
	if errors.Is(err, xerrors.ErrTransportTimeout) {
		label = "timeout"
	}
	metrics.Notifications.WithLabelValues(label).Inc()
}

func transportError(err error, timedOut bool) error {
	switch {
	case errors.Is(err, xerrors.ErrTransportTimeout), errors.Is(err, xerrors.ErrTransportFailure):
		if timedOut && !errors.Is(err, xerrors.ErrTransportTimeout) {
			return fmt.Errorf("%w: %v", xerrors.ErrTransportTimeout, err)
		}
		return err
	case timedOut || errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", xerrors.ErrTransportTimeout, err)
	}
	return fmt.Errorf("%w: %v", xerrors.ErrTransportFailure, err)
}

func strPtr(s string) *string {
	return &s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
