// Package usage is a single-node usage log on SQLite. It serves as the
// usage aggregator for limit checks when no postgres usage table is used.
package usage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/djinilabs/helpmaton-sub006/internal/model"
)

const createTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	workspace_id TEXT NOT NULL,
	agent_id TEXT NOT NULL DEFAULT '',
	currency TEXT NOT NULL,
	base_cost INTEGER NOT NULL DEFAULT 0,
	reranking_cost INTEGER NOT NULL DEFAULT 0,
	eval_cost INTEGER NOT NULL DEFAULT 0,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_scope_time ON usage_records(workspace_id, agent_id, created_at);
`

type SQLiteStore struct {
	db *sqlx.DB
}

// Open creates the database file if needed and migrates it.
func Open(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	// one writer at a time avoids SQLITE_BUSY under concurrent settles
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Record appends one usage row. Timestamps are stored as unix nanoseconds.
func (s *SQLiteStore) Record(ctx context.Context, rec model.UsageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records (workspace_id, agent_id, currency, base_cost, reranking_cost,
			eval_cost, input_tokens, output_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.WorkspaceID, rec.AgentID, string(rec.Currency), rec.BaseCost, rec.RerankingCost,
		rec.EvalCost, rec.InputTokens, rec.OutputTokens, rec.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

type totals struct {
	Currency      string `db:"currency"`
	BaseCost      int64  `db:"base_cost"`
	RerankingCost int64  `db:"reranking_cost"`
	EvalCost      int64  `db:"eval_cost"`
	InputTokens   int64  `db:"input_tokens"`
	OutputTokens  int64  `db:"output_tokens"`
}

// QueryUsageStats sums usage in [StartDate, EndDate). With an AgentID the
// rows are matched on (workspace_id, agent_id).
func (s *SQLiteStore) QueryUsageStats(ctx context.Context, q model.UsageQuery) (*model.UsageStats, error) {
	var rows []totals
	err := s.db.SelectContext(ctx, &rows, `
		SELECT currency,
			COALESCE(SUM(base_cost), 0) AS base_cost,
			COALESCE(SUM(reranking_cost), 0) AS reranking_cost,
			COALESCE(SUM(eval_cost), 0) AS eval_cost,
			COALESCE(SUM(input_tokens), 0) AS input_tokens,
			COALESCE(SUM(output_tokens), 0) AS output_tokens
		FROM usage_records
		WHERE workspace_id = ?
			AND (? = '' OR agent_id = ?)
			AND created_at >= ? AND created_at < ?
		GROUP BY currency
	`, q.WorkspaceID, q.AgentID, q.AgentID, q.StartDate.UnixNano(), q.EndDate.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query usage stats: %w", err)
	}

	stats := &model.UsageStats{Costs: make(map[model.Currency]model.CostBreakdown, len(rows))}
	for _, row := range rows {
		stats.Costs[model.Currency(row.Currency)] = model.CostBreakdown{
			Base:      row.BaseCost,
			Reranking: row.RerankingCost,
			Eval:      row.EvalCost,
		}
		stats.InputTokens += row.InputTokens
		stats.OutputTokens += row.OutputTokens
	}
	return stats, nil
}
