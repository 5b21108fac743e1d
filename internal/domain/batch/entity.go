// internal/domain/batch/entity.go
package batch

import (
	"github.com/oklog/ulid/v2"

	"github.com/karhin20/flowback/internal/domain/action"
	xerrors "github.com/karhin20/flowback/internal/pkg/errors"
)

// ID correlates every ledger entry produced by one submission.
type ID string

// NewID returns a fresh, time-sortable batch id.
func NewID() ID {
	return ID(ulid.Make().String())
}

func (id ID) String() string {
	return string(id)
}

// Ptr returns the id as the nullable column value used by ledger rows.
func (id ID) Ptr() *string {
	s := string(id)
	return &s
}

// RawRow is one untyped input row: field name to optional string.
type RawRow map[string]*string

// Str builds a RawRow field value.
func Str(s string) *string {
	return &s
}

// Record is a validated row, ready to apply.
type Record struct {
	RowIndex      int         `json:"row_index"`
	Name          string      `json:"name"`
	AccountNumber string      `json:"account_number"`
	Phone         string      `json:"phone"`
	Arrears       string      `json:"arrears"`
	Reason        string      `json:"reason,omitempty"`
	Action        action.Kind `json:"action,omitempty"`
}

// Rejection is a row that failed validation.
type Rejection struct {
	RowIndex int                  `json:"row_index"`
	Errors   []xerrors.FieldError `json:"errors"`
}

func (r *Rejection) Err() *xerrors.ValidationError {
	return xerrors.NewValidationError(r.Errors...)
}
