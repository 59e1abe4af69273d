package model

import (
	"time"
)

type TokenUsage struct {
	PromptTokens       int64 `json:"promptTokens"`
	CompletionTokens   int64 `json:"completionTokens"`
	CachedPromptTokens int64 `json:"cachedPromptTokens,omitempty"`
	ReasoningTokens    int64 `json:"reasoningTokens,omitempty"`
}

// HasTokens reports whether any token count is non-zero.
func (u TokenUsage) HasTokens() bool {
	return u.PromptTokens != 0 || u.CompletionTokens != 0 ||
		u.CachedPromptTokens != 0 || u.ReasoningTokens != 0
}

// CostBreakdown splits spend in one currency by component, in nanos.
type CostBreakdown struct {
	Base      int64 `json:"base"`
	Reranking int64 `json:"reranking"`
	Eval      int64 `json:"eval"`
}

func (c CostBreakdown) Total() int64 {
	return c.Base + c.Reranking + c.Eval
}

type UsageStats struct {
	Costs        map[Currency]CostBreakdown `json:"costs"`
	InputTokens  int64                      `json:"inputTokens"`
	OutputTokens int64                      `json:"outputTokens"`
}

// TotalIn returns base, reranking and eval cost in the given currency.
func (s *UsageStats) TotalIn(c Currency) int64 {
	if s == nil {
		return 0
	}
	return s.Costs[c].Total()
}

// UsageQuery selects usage records in [StartDate, EndDate). An AgentID is
// only meaningful together with its WorkspaceID.
type UsageQuery struct {
	WorkspaceID string
	AgentID     string
	StartDate   time.Time
	EndDate     time.Time
}

type UsageRecord struct {
	WorkspaceID   string    `db:"workspace_id" json:"workspaceId"`
	AgentID       string    `db:"agent_id" json:"agentId,omitempty"`
	Currency      Currency  `db:"currency" json:"currency"`
	BaseCost      int64     `db:"base_cost" json:"baseCost"`
	RerankingCost int64     `db:"reranking_cost" json:"rerankingCost"`
	EvalCost      int64     `db:"eval_cost" json:"evalCost"`
	InputTokens   int64     `db:"input_tokens" json:"inputTokens"`
	OutputTokens  int64     `db:"output_tokens" json:"outputTokens"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// UsageWindow is computed per check and never cached.
type UsageWindow struct {
	Scope         Scope     `json:"scope"`
	TimeFrame     TimeFrame `json:"timeFrame"`
	StartDate     time.Time `json:"startDate"`
	EndDate       time.Time `json:"endDate"`
	CurrentSpend  int64     `json:"currentSpend"`
	EstimatedCost int64     `json:"estimatedCost"`
	Limit         int64     `json:"limit"`
}

type FailedLimit struct {
	Scope     Scope     `json:"scope"`
	TimeFrame TimeFrame `json:"timeFrame"`
	Limit     int64     `json:"limit"`
	Current   int64     `json:"current"`
}
