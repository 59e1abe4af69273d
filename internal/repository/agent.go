package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/djinilabs/helpmaton-sub006/internal/model"
)

type AgentRepository interface {
	// FindPolicy looks an agent up by its workspace-scoped key.
	FindPolicy(ctx context.Context, workspaceID, agentID string) (*model.AgentPolicy, error)
	// UpdateSpendingLimits replaces the agent's limits. It returns
	// database.ErrRowChanged when no agent has that key.
	UpdateSpendingLimits(ctx context.Context, workspaceID, agentID string, limits model.SpendingLimits) error
	WithTx(tx *sqlx.Tx) AgentRepository
}

type agentRepo struct {
	db sqlxDB
}

func NewAgentRepository(db *sqlx.DB) AgentRepository {
	return &agentRepo{db: db}
}

func (r *agentRepo) WithTx(tx *sqlx.Tx) AgentRepository {
	return &agentRepo{db: tx}
}

func (r *agentRepo) FindPolicy(ctx context.Context, workspaceID, agentID string) (*model.AgentPolicy, error) {
	var policy model.AgentPolicy
	err := r.db.GetContext(ctx, &policy, `
		SELECT id, workspace_id, spending_limits FROM agents
		WHERE workspace_id = $1 AND id = $2
	`, workspaceID, agentID)
	return HandleNotFound(&policy, err)
}

func (r *agentRepo) UpdateSpendingLimits(ctx context.Context, workspaceID, agentID string, limits model.SpendingLimits) error {
	return expectOneRow(r.db.ExecContext(ctx, `
		UPDATE agents SET spending_limits = $3
		WHERE workspace_id = $1 AND id = $2
	`, workspaceID, agentID, limits))
}
