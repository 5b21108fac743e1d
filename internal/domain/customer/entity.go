// internal/domain/customer/entity.go
package customer

import (
	"time"
)

type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusWarned       Status = "warned"
)

func (s Status) Valid() bool {
	switch s {
	case StatusConnected, StatusDisconnected, StatusWarned:
		return true
	}
	return false
}

// Customer is keyed internally by ID and in the business by AccountNumber.
// Arrears is a fixed two-decimal string.
type Customer struct {
	ID            int64     `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	AccountNumber string    `json:"account_number" db:"account_number"`
	Phone         string    `json:"phone" db:"phone"`
	Status        Status    `json:"status" db:"status"`
	Arrears       string    `json:"arrears" db:"arrears"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

type Stats struct {
	TotalCustomers        int64  `json:"total_customers"`
	ConnectedCustomers    int64  `json:"connected_customers"`
	DisconnectedCustomers int64  `json:"disconnected_customers"`
	WarnedCustomers       int64  `json:"warned_customers"`
	TotalArrears          string `json:"total_arrears"`
	ActionsToday          int64  `json:"actions_today"`
}
