// internal/service/template/renderer.go
package template

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/karhin20/flowback/internal/domain/action"
	"github.com/karhin20/flowback/internal/domain/customer"
	domain "github.com/karhin20/flowback/internal/domain/template"
	xerrors "github.com/karhin20/flowback/internal/pkg/errors"
)

var placeholder = regexp.MustCompile(`\{([a-z_]+)\}`)

// Fields are the values available to placeholders.
type Fields struct {
	Name          string
	AccountNumber string
	Phone         string
	Status        string
	Amount        string
	Currency      string
}

// FieldsFor builds Fields from a customer record.
func FieldsFor(c *customer.Customer, currency string) Fields {
	return Fields{
		Name:          c.Name,
		AccountNumber: c.AccountNumber,
		Phone:         c.Phone,
		Status:        string(c.Status),
		Amount:        c.Arrears,
		Currency:      currency,
	}
}

func (f Fields) lookup(token string) (string, bool) {
	switch token {
	case "amount":
		return f.Amount, true
	case "name":
		return f.Name, true
	case "account_number":
		return f.AccountNumber, true
	case "phone":
		return f.Phone, true
	case "status":
		return f.Status, true
	case "currency":
		return f.Currency, true
	}
	return "", false
}

// Render substitutes known {token} placeholders. Unknown tokens are kept as
// written.
func Render(body string, f Fields) string {
	return placeholder.ReplaceAllStringFunc(body, func(m string) string {
		if v, ok := f.lookup(m[1 : len(m)-1]); ok {
			return v
		}
		return m
	})
}

type Service struct {
	repo   domain.Repository
	logger *zap.Logger
}

func NewService(repo domain.Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Render looks up the template for kind and fills it.
func (s *Service) Render(ctx context.Context, kind action.Kind, f Fields) (string, error) {
	if !kind.ChangesStatus() {
		return "", fmt.Errorf("no template for %q: %w", kind, xerrors.ErrTemplateNotFound)
	}
	t, err := s.repo.FindByAction(ctx, kind)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) || errors.Is(err, xerrors.ErrTemplateNotFound) {
			return "", fmt.Errorf("template %q: %w", kind, xerrors.ErrTemplateNotFound)
		}
		return "", fmt.Errorf("failed to load template %q: %w", kind, err)
	}
	return Render(t.Body, f), nil
}

func (s *Service) List(ctx context.Context) ([]domain.MessageTemplate, error) {
	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return list, nil
}

// Update replaces the body of an existing template.
func (s *Service) Update(ctx context.Context, kind action.Kind, body string) (*domain.MessageTemplate, error) {
	if !kind.ChangesStatus() {
		return nil, fmt.Errorf("template %q: %w", kind, xerrors.ErrTemplateNotFound)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, xerrors.NewValidationError(xerrors.FieldError{Field: "body", Message: "is required"})
	}

	t := &domain.MessageTemplate{Action: kind, Body: body}
	if err := s.repo.Update(ctx, t); err != nil {
		if errors.Is(err, xerrors.ErrNotFound) || errors.Is(err, xerrors.ErrTemplateNotFound) {
			return nil, fmt.Errorf("template %q: %w", kind, xerrors.ErrTemplateNotFound)
		}
		return nil, fmt.Errorf("failed to update template: %w", err)
	}

	s.logger.Info("message template updated", zap.String("action", string(kind)))
	return t, nil
}
