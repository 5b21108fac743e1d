// internal/domain/action/entity.go
package action

import (
	"time"
)

type Kind string

const (
	KindConnect    Kind = "connect"
	KindDisconnect Kind = "disconnect"
	KindWarn       Kind = "warn"
	KindSMSSent    Kind = "sms_sent"
)

// Valid reports whether k is a known action kind.
func (k Kind) Valid() bool {
	switch k {
	case KindConnect, KindDisconnect, KindWarn, KindSMSSent:
		return true
	}
	return false
}

// ChangesStatus is false only for notification-only actions.
func (k Kind) ChangesStatus() bool {
	return k == KindConnect || k == KindDisconnect || k == KindWarn
}

// ParseKind accepts a kind name in any case, with surrounding spaces.
func ParseKind(s string) (Kind, bool) {
	k := Kind(normalize(s))
	return k, k.Valid()
}

type Source string

const (
	SourceManual Source = "manual"
	SourceBatch  Source = "batch"
)

func (s Source) Valid() bool {
	return s == SourceManual || s == SourceBatch
}

// CustomerAction is one immutable ledger entry. BatchID is set iff Source is batch.
type CustomerAction struct {
	ID          int64     `json:"id" db:"id"`
	CustomerID  int64     `json:"customer_id" db:"customer_id"`
	Action      Kind      `json:"action" db:"action"`
	PerformedBy string    `json:"performed_by" db:"performed_by"`
	Source      Source    `json:"source" db:"source"`
	BatchID     *string   `json:"batch_id,omitempty" db:"batch_id"`
	Reason      *string   `json:"reason,omitempty" db:"reason"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
