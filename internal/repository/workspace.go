package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/djinilabs/helpmaton-sub006/internal/model"
)

type WorkspaceRepository interface {
	FindByID(ctx context.Context, id string) (*model.WorkspaceAccount, error)
	// FindByIDForUpdate locks the row until the surrounding transaction ends.
	FindByIDForUpdate(ctx context.Context, id string) (*model.WorkspaceAccount, error)
	// Debit subtracts amount only if the balance covers it. ok is false and
	// nothing changes otherwise. A negative amount is an error.
	Debit(ctx context.Context, id string, amount int64) (balance int64, ok bool, err error)
	// Adjust adds delta (which may be negative) unconditionally.
	Adjust(ctx context.Context, id string, delta int64) (int64, error)
	UpdateSpendingLimits(ctx context.Context, id string, limits model.SpendingLimits) error
	ListOwners(ctx context.Context, workspaceID string) ([]model.WorkspaceOwner, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) WorkspaceRepository
}

type workspaceRepo struct {
	db sqlxDB
}

func NewWorkspaceRepository(db *sqlx.DB) WorkspaceRepository {
	return &workspaceRepo{db: db}
}

func (r *workspaceRepo) WithTx(tx *sqlx.Tx) WorkspaceRepository {
	return &workspaceRepo{db: tx}
}

func (r *workspaceRepo) FindByID(ctx context.Context, id string) (*model.WorkspaceAccount, error) {
	var ws model.WorkspaceAccount
	err := r.db.GetContext(ctx, &ws, `
		SELECT * FROM workspaces WHERE id = $1
	`, id)
	return HandleNotFound(&ws, err)
}

func (r *workspaceRepo) FindByIDForUpdate(ctx context.Context, id string) (*model.WorkspaceAccount, error) {
	var ws model.WorkspaceAccount
	err := r.db.GetContext(ctx, &ws, `
		SELECT * FROM workspaces WHERE id = $1 FOR UPDATE
	`, id)
	return HandleNotFound(&ws, err)
}

func (r *workspaceRepo) Debit(ctx context.Context, id string, amount int64) (int64, bool, error) {
	if amount < 0 {
		return 0, false, fmt.Errorf("debit workspace %s: negative amount %d", id, amount)
	}
	var balance int64
	err := r.db.GetContext(ctx, &balance, `
		UPDATE workspaces SET
			credit_balance = credit_balance - $2,
			updated_at = NOW()
		WHERE id = $1 AND credit_balance >= $2
		RETURNING credit_balance
	`, id, amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return balance, true, nil
}

func (r *workspaceRepo) Adjust(ctx context.Context, id string, delta int64) (int64, error) {
	var balance int64
	err := r.db.GetContext(ctx, &balance, `
		UPDATE workspaces SET
			credit_balance = credit_balance + $2,
			updated_at = NOW()
		WHERE id = $1
		RETURNING credit_balance
	`, id, delta)
	return balance, err
}

func (r *workspaceRepo) UpdateSpendingLimits(ctx context.Context, id string, limits model.SpendingLimits) error {
	return expectOneRow(r.db.ExecContext(ctx, `
		UPDATE workspaces SET spending_limits = $2, updated_at = NOW()
		WHERE id = $1
	`, id, limits))
}

func (r *workspaceRepo) ListOwners(ctx context.Context, workspaceID string) ([]model.WorkspaceOwner, error) {
	var owners []model.WorkspaceOwner
	err := r.db.SelectContext(ctx, &owners, `
		SELECT u.id AS user_id, u.email
		FROM workspace_owners o
		JOIN users u ON u.id = o.user_id
		WHERE o.workspace_id = $1
		ORDER BY u.id
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	return owners, nil
}
