// internal/domain/batch/dto.go
package batch

import (
	"github.com/karhin20/flowback/internal/domain/action"
	"github.com/karhin20/flowback/internal/domain/customer"
	xerrors "github.com/karhin20/flowback/internal/pkg/errors"
)

// Options control one ProcessBatch call.
type Options struct {
	// Action applied to rows that do not name their own.
	Action        action.Kind `json:"action"`
	CreateMissing bool        `json:"create_missing"`
	Notify        bool        `json:"notify"`
	// SyncArrears writes the row's arrears onto existing customers in the
	// same transaction as the status change.
	SyncArrears bool `json:"sync_arrears"`
	// FirstRowIndex is the index reported for rows[0]; 1 when unset.
	FirstRowIndex int `json:"-"`
}

// ProcessRequest is the JSON body for a batch submission.
type ProcessRequest struct {
	Rows          []map[string]*string `json:"rows" binding:"required,min=1"`
	Action        string               `json:"action" binding:"omitempty,oneof=connect disconnect warn"`
	CreateMissing *bool                `json:"create_missing"`
	Notify        *bool                `json:"notify"`
	SyncArrears   bool                 `json:"sync_arrears"`
}

// RowOutcome is the per-row accounting of a batch.
type RowOutcome struct {
	RowIndex      int         `json:"row_index"`
	AccountNumber string      `json:"account_number,omitempty"`
	Action        action.Kind `json:"action,omitempty"`

	CustomerID      int64           `json:"customer_id,omitempty"`
	PreviousStatus  customer.Status `json:"previous_status,omitempty"`
	NewStatus       customer.Status `json:"new_status,omitempty"`
	ActionID        int64           `json:"action_id,omitempty"`
	CustomerCreated bool            `json:"customer_created,omitempty"`

	ErrorCode   string               `json:"error_code,omitempty"`
	Error       string               `json:"error,omitempty"`
	FieldErrors []xerrors.FieldError `json:"field_errors,omitempty"`

	Notified           bool   `json:"notified"`
	NotificationFailed bool   `json:"notification_failed"`
	NotificationError  string `json:"notification_error,omitempty"`
	MessageID          string `json:"message_id,omitempty"`
}

// Counts aggregates a batch result.
type Counts struct {
	Processed            int `json:"processed"`
	Succeeded            int `json:"succeeded"`
	Rejected             int `json:"rejected"`
	CustomersCreated     int `json:"customers_created"`
	Notified             int `json:"notified"`
	NotificationFailures int `json:"notification_failures"`
}

// Result reports every row; Accepted and Rejected are in row order.
type Result struct {
	BatchID  ID           `json:"batch_id"`
	Accepted []RowOutcome `json:"accepted"`
	Rejected []RowOutcome `json:"rejected"`
	Counts   Counts       `json:"counts"`
}

// ValidationReport is the dry-run output of validating rows without applying them.
type ValidationReport struct {
	Valid    []Record    `json:"valid"`
	Invalid  []Rejection `json:"invalid"`
	Total    int         `json:"total"`
	Accepted int         `json:"accepted"`
}
