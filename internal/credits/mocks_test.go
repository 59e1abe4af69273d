package credits

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/djinilabs/helpmaton-sub006/internal/database"
	"github.com/djinilabs/helpmaton-sub006/internal/limits"
	"github.com/djinilabs/helpmaton-sub006/internal/model"
	"github.com/djinilabs/helpmaton-sub006/internal/pricing"
	"github.com/djinilabs/helpmaton-sub006/internal/repository"
)

// inlineTx runs the callback without a real transaction.
type inlineTx struct{}

func (inlineTx) WithTx(_ context.Context, fn database.TxFunc) error {
	return fn(nil)
}

type MockWorkspaceRepository struct {
	mock.Mock
}

func (m *MockWorkspaceRepository) FindByID(ctx context.Context, id string) (*model.WorkspaceAccount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WorkspaceAccount), args.Error(1)
}

func (m *MockWorkspaceRepository) FindByIDForUpdate(ctx context.Context, id string) (*model.WorkspaceAccount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WorkspaceAccount), args.Error(1)
}

func (m *MockWorkspaceRepository) Debit(ctx context.Context, id string, amount int64) (int64, bool, error) {
	args := m.Called(ctx, id, amount)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}

func (m *MockWorkspaceRepository) Adjust(ctx context.Context, id string, delta int64) (int64, error) {
	args := m.Called(ctx, id, delta)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockWorkspaceRepository) UpdateSpendingLimits(ctx context.Context, id string, limits model.SpendingLimits) error {
	args := m.Called(ctx, id, limits)
	return args.Error(0)
}

func (m *MockWorkspaceRepository) ListOwners(ctx context.Context, workspaceID string) ([]model.WorkspaceOwner, error) {
	args := m.Called(ctx, workspaceID)
	return args.Get(0).([]model.WorkspaceOwner), args.Error(1)
}

func (m *MockWorkspaceRepository) WithTx(*sqlx.Tx) repository.WorkspaceRepository { return m }

type MockAgentRepository struct {
	mock.Mock
}

func (m *MockAgentRepository) FindPolicy(ctx context.Context, workspaceID, agentID string) (*model.AgentPolicy, error) {
	args := m.Called(ctx, workspaceID, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AgentPolicy), args.Error(1)
}

func (m *MockAgentRepository) UpdateSpendingLimits(ctx context.Context, workspaceID, agentID string, limits model.SpendingLimits) error {
	args := m.Called(ctx, workspaceID, agentID, limits)
	return args.Error(0)
}

func (m *MockAgentRepository) WithTx(*sqlx.Tx) repository.AgentRepository { return m }

type MockReservationRepository struct {
	mock.Mock
}

func (m *MockReservationRepository) Create(ctx context.Context, params model.CreateReservationParams) (*model.Reservation, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Reservation), args.Error(1)
}

func (m *MockReservationRepository) FindByID(ctx context.Context, id string) (*model.Reservation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Reservation), args.Error(1)
}

func (m *MockReservationRepository) FindByIDForUpdate(ctx context.Context, id string) (*model.Reservation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Reservation), args.Error(1)
}

func (m *MockReservationRepository) MarkSettled(ctx context.Context, id string, actualAmount int64) error {
	args := m.Called(ctx, id, actualAmount)
	return args.Error(0)
}

func (m *MockReservationRepository) MarkReleased(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockReservationRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).([]model.Reservation), args.Error(1)
}

func (m *MockReservationRepository) WithTx(*sqlx.Tx) repository.ReservationRepository { return m }

type MockUsageRecorder struct {
	mock.Mock
}

func (m *MockUsageRecorder) Record(ctx context.Context, rec model.UsageRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

type MockPricer struct {
	mock.Mock
}

func (m *MockPricer) Estimate(provider, modelName string, req pricing.EstimateRequest, currency model.Currency) (int64, error) {
	args := m.Called(provider, modelName, req, currency)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPricer) Cost(provider, modelName string, usage model.TokenUsage, currency model.Currency) (int64, error) {
	args := m.Called(provider, modelName, usage, currency)
	return args.Get(0).(int64), args.Error(1)
}

type MockLimitChecker struct {
	mock.Mock
}

func (m *MockLimitChecker) CheckLimits(ctx context.Context, account *model.WorkspaceAccount, agent *model.AgentPolicy, estimatedCost int64) (*limits.Result, error) {
	args := m.Called(ctx, account, agent, estimatedCost)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*limits.Result), args.Error(1)
}

type MockReserver struct {
	mock.Mock
}

func (m *MockReserver) ValidateAndReserve(ctx context.Context, req ReserveRequest) (*model.CreditReservation, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CreditReservation), args.Error(1)
}

func (m *MockReserver) Adjust(ctx context.Context, req AdjustRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockReserver) Refund(ctx context.Context, reservationID, workspaceID string) error {
	args := m.Called(ctx, reservationID, workspaceID)
	return args.Error(0)
}
