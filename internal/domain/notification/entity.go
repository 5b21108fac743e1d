// internal/domain/notification/entity.go
package notification

import (
	"time"

	"github.com/karhin20/flowback/internal/domain/action"
)

type DeliveryStatus string

const (
	StatusAccepted DeliveryStatus = "accepted"
	StatusRejected DeliveryStatus = "rejected"
	StatusFailed   DeliveryStatus = "failed"
)

// Delivery records one SMS dispatch attempt and its outcome.
type Delivery struct {
	ID                int64          `json:"id" db:"id"`
	CustomerID        *int64         `json:"customer_id,omitempty" db:"customer_id"`
	Phone             string         `json:"phone" db:"phone"`
	Message           string         `json:"message" db:"message"`
	ProviderMessageID *string        `json:"provider_message_id,omitempty" db:"provider_message_id"`
	Status            DeliveryStatus `json:"status" db:"status"`
	Error             *string        `json:"error,omitempty" db:"error"`
	Source            action.Source  `json:"source" db:"source"`
	BatchID           *string        `json:"batch_id,omitempty" db:"batch_id"`
	SMSActionID       *int64         `json:"sms_action_id,omitempty" db:"sms_action_id"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
}

// Provenance identifies the flow that triggered a notification.
type Provenance struct {
	Source      action.Source
	BatchID     *string
	PerformedBy string
}

// DeliveryResult is what the dispatcher reports back to callers.
type DeliveryResult struct {
	MessageID   string         `json:"message_id"`
	Status      DeliveryStatus `json:"status"`
	DeliveryID  int64          `json:"delivery_id"`
	SMSActionID int64          `json:"sms_action_id,omitempty"`
}

// DTOs

type SendCustomRequest struct {
	Message string `json:"message" binding:"required,max=918"`
}

type BulkSendRequest struct {
	Phones  []string `json:"phones" binding:"required,min=1"`
	Message string   `json:"message" binding:"required,max=918"`
}

type BulkSendResult struct {
	Recipients int      `json:"recipients"`
	Chunks     int      `json:"chunks"`
	Failed     int      `json:"failed_chunks"`
	Invalid    []string `json:"invalid_phones,omitempty"`
}

type DeliveryListFilters struct {
	CustomerID int64          `form:"customer_id"`
	BatchID    string         `form:"batch_id"`
	Status     DeliveryStatus `form:"status" binding:"omitempty,oneof=accepted rejected failed"`
	Page       int            `form:"page"`
	PageSize   int            `form:"page_size"`
}

type DeliveryListResponse struct {
	Deliveries []Delivery `json:"deliveries"`
	Total      int64      `json:"total"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	TotalPages int        `json:"total_pages"`
}
