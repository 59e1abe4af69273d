package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/djinilabs/helpmaton-sub006/internal/model"
)

type ReservationRepository interface {
	Create(ctx context.Context, params model.CreateReservationParams) (*model.Reservation, error)
	FindByID(ctx context.Context, id string) (*model.Reservation, error)
	FindByIDForUpdate(ctx context.Context, id string) (*model.Reservation, error)
	// MarkSettled moves a reserved row to settled. It returns
	// database.ErrRowChanged if the row is no longer reserved.
	MarkSettled(ctx context.Context, id string, actualAmount int64) error
	// MarkReleased moves a reserved row to released. It returns
	// database.ErrRowChanged if the row is no longer reserved.
	MarkReleased(ctx context.Context, id string) error
	FindExpired(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error)
	WithTx(tx *sqlx.Tx) ReservationRepository
}

type reservationRepo struct {
	db sqlxDB
}

func NewReservationRepository(db *sqlx.DB) ReservationRepository {
	return &reservationRepo{db: db}
}

func (r *reservationRepo) WithTx(tx *sqlx.Tx) ReservationRepository {
	return &reservationRepo{db: tx}
}

func (r *reservationRepo) Create(ctx context.Context, params model.CreateReservationParams) (*model.Reservation, error) {
	var res model.Reservation
	err := r.db.GetContext(ctx, &res, `
		INSERT INTO credit_reservations (id, workspace_id, agent_id, provider, model, currency, reserved_amount, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING *
	`, params.ID, params.WorkspaceID, params.AgentID, params.Provider, params.Model,
		params.Currency, params.ReservedAmount, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *reservationRepo) FindByID(ctx context.Context, id string) (*model.Reservation, error) {
	var res model.Reservation
	err := r.db.GetContext(ctx, &res, `
		SELECT * FROM credit_reservations WHERE id = $1
	`, id)
	return HandleNotFound(&res, err)
}

func (r *reservationRepo) FindByIDForUpdate(ctx context.Context, id string) (*model.Reservation, error) {
	var res model.Reservation
	err := r.db.GetContext(ctx, &res, `
		SELECT * FROM credit_reservations WHERE id = $1 FOR UPDATE
	`, id)
	return HandleNotFound(&res, err)
}

func (r *reservationRepo) MarkSettled(ctx context.Context, id string, actualAmount int64) error {
	return expectOneRow(r.db.ExecContext(ctx, `
		UPDATE credit_reservations SET
			status = 'settled',
			actual_amount = $2,
			updated_at = NOW()
		WHERE id = $1 AND status = 'reserved'
	`, id, actualAmount))
}

func (r *reservationRepo) MarkReleased(ctx context.Context, id string) error {
	return expectOneRow(r.db.ExecContext(ctx, `
		UPDATE credit_reservations SET
			status = 'released',
			updated_at = NOW()
		WHERE id = $1 AND status = 'reserved'
	`, id))
}

func (r *reservationRepo) FindExpired(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	var rows []model.Reservation
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM credit_reservations
		WHERE status = 'reserved' AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
