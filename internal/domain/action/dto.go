// internal/domain/action/dto.go
package action

import (
	"strings"
	"time"
)

type ListFilters struct {
	Kinds       []Kind     `form:"action"`
	Source      Source     `form:"source" binding:"omitempty,oneof=manual batch"`
	PerformedBy string     `form:"performed_by"`
	BatchID     string     `form:"batch_id"`
	CustomerID  int64      `form:"customer_id"`
	From        *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To          *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Page        int        `form:"page"`
	PageSize    int        `form:"page_size"`
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize applies pagination defaults and bounds.
func (f *ListFilters) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
}

func (f ListFilters) Offset() int {
	return (f.Page - 1) * f.PageSize
}

type ListResponse struct {
	Actions    []CustomerAction `json:"actions"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalPages int              `json:"total_pages"`
}

// BatchVerification summarises the ledger entries sharing one batch id.
type BatchVerification struct {
	BatchID            string           `json:"batch_id"`
	TotalActions       int              `json:"total_actions"`
	ByKind             map[Kind]int     `json:"by_kind"`
	TotalCustomers     int              `json:"total_customers"`
	CustomersInSync    int              `json:"customers_in_sync"`
	VerificationPassed bool             `json:"verification_passed"`
	Actions            []CustomerAction `json:"actions"`
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
