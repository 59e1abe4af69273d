package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SpendingLimit caps spend within a rolling window. Amount is in nano units
// of the owning workspace's currency.
type SpendingLimit struct {
	TimeFrame TimeFrame `json:"timeFrame"`
	Amount    int64     `json:"amount"`
}

// SpendingLimits is stored as a jsonb column.
type SpendingLimits []SpendingLimit

func (l SpendingLimits) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

func (l *SpendingLimits) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported spending limits type %T", src)
	}
	return json.Unmarshal(raw, l)
}

type WorkspaceAccount struct {
	ID             string         `db:"id" json:"id"`
	Currency       Currency       `db:"currency" json:"currency"`
	CreditBalance  int64          `db:"credit_balance" json:"creditBalance"`
	SpendingLimits SpendingLimits `db:"spending_limits" json:"spendingLimits"`
	CreatedAt      time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updatedAt"`
}

// AgentPolicy holds agent-scoped limits. They apply in addition to the
// workspace limits, never instead of them.
type AgentPolicy struct {
	AgentID        string         `db:"id" json:"agentId"`
	WorkspaceID    string         `db:"workspace_id" json:"workspaceId"`
	SpendingLimits SpendingLimits `db:"spending_limits" json:"spendingLimits"`
}

type WorkspaceOwner struct {
	UserID string `db:"user_id" json:"userId"`
	Email  string `db:"email" json:"email"`
}
