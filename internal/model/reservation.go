package model

import (
	"time"
)

// BYOKReservationID marks a call paid with the tenant's own upstream key.
const BYOKReservationID = "byok"

type CreditReservation struct {
	ReservationID  string `json:"reservationId"`
	ReservedAmount int64  `json:"reservedAmount"`
}

// IsBillable reports whether the reservation refers to a real hold.
func (r *CreditReservation) IsBillable() bool {
	return r != nil && r.ReservationID != "" && r.ReservationID != BYOKReservationID
}

type Reservation struct {
	ID             string            `db:"id" json:"id"`
	WorkspaceID    string            `db:"workspace_id" json:"workspaceId"`
	AgentID        *string           `db:"agent_id" json:"agentId,omitempty"`
	Provider       string            `db:"provider" json:"provider"`
	Model          string            `db:"model" json:"model"`
	Currency       Currency          `db:"currency" json:"currency"`
	ReservedAmount int64             `db:"reserved_amount" json:"reservedAmount"`
	ActualAmount   *int64            `db:"actual_amount" json:"actualAmount,omitempty"`
	Status         ReservationStatus `db:"status" json:"status"`
	ExpiresAt      time.Time         `db:"expires_at" json:"expiresAt"`
	CreatedAt      time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time         `db:"updated_at" json:"updatedAt"`
}

type CreateReservationParams struct {
	ID             string
	WorkspaceID    string
	AgentID        *string
	Provider       string
	Model          string
	Currency       Currency
	ReservedAmount int64
	ExpiresAt      time.Time
}
