// internal/domain/template/entity.go
package template

import (
	"context"
	"time"

	"github.com/karhin20/flowback/internal/domain/action"
)

// MessageTemplate holds the SMS body for one status-changing action kind.
type MessageTemplate struct {
	Action    action.Kind `json:"action" db:"action"`
	Body      string      `json:"body" db:"body"`
	UpdatedAt time.Time   `json:"updated_at" db:"updated_at"`
}

type UpdateTemplateRequest struct {
	Body string `json:"body" binding:"required,max=1000"`
}

type Repository interface {
	FindByAction(ctx context.Context, kind action.Kind) (*MessageTemplate, error)
	List(ctx context.Context) ([]MessageTemplate, error)
	Update(ctx context.Context, t *MessageTemplate) error
}

// Defaults are the bodies seeded for each status-changing action.
func Defaults() []MessageTemplate {
	return []MessageTemplate{
		{Action: action.KindConnect, Body: "Dear {name}, your supply on account {account_number} has been reconnected. Thank you for your payment."},
		{Action: action.KindDisconnect, Body: "Dear {name}, your supply on account {account_number} has been disconnected due to arrears of {currency} {amount}. Please pay to restore service."},
		{Action: action.KindWarn, Body: "Dear {name}, your account {account_number} has outstanding arrears of {currency} {amount}. Please pay promptly to avoid disconnection."},
	}
}
