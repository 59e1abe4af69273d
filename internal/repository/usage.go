package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/djinilabs/helpmaton-sub006/internal/model"
)

// UsageRepository appends usage records and aggregates them for limit checks.
type UsageRepository interface {
	Record(ctx context.Context, rec model.UsageRecord) error
	QueryUsageStats(ctx context.Context, q model.UsageQuery) (*model.UsageStats, error)
	WithTx(tx *sqlx.Tx) UsageRepository
}

type usageRepo struct {
	db sqlxDB
}

func NewUsageRepository(db *sqlx.DB) UsageRepository {
	return &usageRepo{db: db}
}

func (r *usageRepo) WithTx(tx *sqlx.Tx) UsageRepository {
	return &usageRepo{db: tx}
}

func (r *usageRepo) Record(ctx context.Context, rec model.UsageRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO usage_records (workspace_id, agent_id, currency, base_cost, reranking_cost,
			eval_cost, input_tokens, output_tokens, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.WorkspaceID, rec.AgentID, rec.Currency, rec.BaseCost, rec.RerankingCost,
		rec.EvalCost, rec.InputTokens, rec.OutputTokens, rec.CreatedAt)
	return err
}

type usageTotals struct {
	Currency      model.Currency `db:"currency"`
	BaseCost      int64          `db:"base_cost"`
	RerankingCost int64          `db:"reranking_cost"`
	EvalCost      int64          `db:"eval_cost"`
	InputTokens   int64          `db:"input_tokens"`
	OutputTokens  int64          `db:"output_tokens"`
}

// QueryUsageStats sums usage in [StartDate, EndDate). With an AgentID the
// rows are matched on (workspace_id, agent_id).
func (r *usageRepo) QueryUsageStats(ctx context.Context, q model.UsageQuery) (*model.UsageStats, error) {
	var rows []usageTotals
	err := r.db.SelectContext(ctx, &rows, `
		SELECT currency,
			COALESCE(SUM(base_cost), 0)::BIGINT AS base_cost,
			COALESCE(SUM(reranking_cost), 0)::BIGINT AS reranking_cost,
			COALESCE(SUM(eval_cost), 0)::BIGINT AS eval_cost,
			COALESCE(SUM(input_tokens), 0)::BIGINT AS input_tokens,
			COALESCE(SUM(output_tokens), 0)::BIGINT AS output_tokens
		FROM usage_records
		WHERE workspace_id = $1
			AND ($2 = '' OR agent_id = $2)
			AND created_at >= $3 AND created_at < $4
		GROUP BY currency
	`, q.WorkspaceID, q.AgentID, q.StartDate, q.EndDate)
	if err != nil {
		return nil, err
	}
	return foldTotals(rows), nil
}

func foldTotals(rows []usageTotals) *model.UsageStats {
	stats := &model.UsageStats{Costs: make(map[model.Currency]model.CostBreakdown, len(rows))}
	for _, row := range rows {
		stats.Costs[row.Currency] = model.CostBreakdown{
			Base:      row.BaseCost,
			Reranking: row.RerankingCost,
			Eval:      row.EvalCost,
		}
		stats.InputTokens += row.InputTokens
		stats.OutputTokens += row.OutputTokens
	}
	return stats
}
