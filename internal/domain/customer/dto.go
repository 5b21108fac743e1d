// internal/domain/customer/dto.go
package customer

import "github.com/karhin20/flowback/internal/domain/action"

type CreateCustomerRequest struct {
	Name          string `json:"name" binding:"required,max=255"`
	AccountNumber string `json:"account_number" binding:"required,max=64"`
	Phone         string `json:"phone" binding:"required,max=20"`
	Arrears       string `json:"arrears"`
	Status        Status `json:"status" binding:"omitempty,oneof=connected disconnected warned"`
}

// UpdateCustomerRequest is the only path that changes arrears. Status is
// changed through actions, account number never.
type UpdateCustomerRequest struct {
	Name    *string `json:"name" binding:"omitempty,max=255"`
	Phone   *string `json:"phone" binding:"omitempty,max=20"`
	Arrears *string `json:"arrears"`
}

type ApplyActionRequest struct {
	Action string `json:"action" binding:"required,oneof=connect disconnect warn"`
	Reason string `json:"reason" binding:"max=500"`
	Notify *bool  `json:"notify"`
}

type ListFilters struct {
	Status   Status `form:"status" binding:"omitempty,oneof=connected disconnected warned"`
	Search   string `form:"search"` // name, account number or phone
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}

type ListResponse struct {
	Customers  []Customer `json:"customers"`
	Total      int64      `json:"total"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	TotalPages int        `json:"total_pages"`
}

// ActionResult is returned by a manual status change. A failed notification
// never undoes the change.
type ActionResult struct {
	Customer          *Customer              `json:"customer"`
	Action            *action.CustomerAction `json:"action"`
	PreviousStatus    Status                 `json:"previous_status"`
	Notified          bool                   `json:"notified"`
	MessageID         string                 `json:"message_id,omitempty"`
	NotificationError string                 `json:"notification_error,omitempty"`
}
