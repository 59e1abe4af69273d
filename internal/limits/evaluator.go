// Package limits evaluates workspace and agent spending caps over rolling
// windows against historical usage.
package limits

import (
	"context"
	"fmt"
	"time"

	"github.com/djinilabs/helpmaton-sub006/internal/ledger"
	"github.com/djinilabs/helpmaton-sub006/internal/metrics"
	"github.com/djinilabs/helpmaton-sub006/internal/model"
	"github.com/rs/zerolog/log"
)

// UsageAggregator returns historical usage totals for a time range. When
// AgentID is set the aggregator must key on (WorkspaceID, AgentID), since
// agent IDs are only unique within a workspace.
type UsageAggregator interface {
	QueryUsageStats(ctx context.Context, q model.UsageQuery) (*model.UsageStats, error)
}

// Target identifies whose spend is being measured.
type Target struct {
	Scope       model.Scope
	WorkspaceID string
	AgentID     string
	Currency    model.Currency
}

type Result struct {
	Passed       bool                `json:"passed"`
	FailedLimits []model.FailedLimit `json:"failedLimits"`
}

type Evaluator struct {
	usage   UsageAggregator
	now     func() time.Time
	metrics *metrics.Metrics
}

type Option func(*Evaluator)

func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

func NewEvaluator(usage UsageAggregator, opts ...Option) *Evaluator {
	e := &Evaluator{
		usage: usage,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SpendInWindow sums base, reranking and eval cost for the target in its
// currency over [start, end).
func (e *Evaluator) SpendInWindow(ctx context.Context, target Target, start, end time.Time) (int64, error) {
	q := model.UsageQuery{
		WorkspaceID: target.WorkspaceID,
		StartDate:   start,
		EndDate:     end,
	}
	if target.Scope == model.ScopeAgent {
		q.AgentID = target.AgentID
	}
	stats, err := e.usage.QueryUsageStats(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("query %s usage: %w", target.Scope, err)
	}
	return stats.TotalIn(target.Currency), nil
}

// CheckLimits evaluates every workspace limit and, when agent is non-nil,
// every agent limit. Each limit fails iff spend plus estimatedCost is strictly
// greater than its amount. The estimate is added to each scope in full and
// all failures are returned. The sum saturates at the int64 maximum and a
// negative estimate counts as zero.
//
// The check reads historical usage and does not reserve anything, so two
// concurrent callers can both pass. The credit hold is the hard backstop.
func (e *Evaluator) CheckLimits(ctx context.Context, account *model.WorkspaceAccount, agent *model.AgentPolicy, estimatedCost int64) (*Result, error) {
	started := time.Now()
	now := e.now()
	res := &Result{Passed: true, FailedLimits: []model.FailedLimit{}}

	for _, scoped := range e.scopes(account, agent) {
		spend := make(map[model.TimeFrame]int64)
		for _, limit := range scoped.limits {
			current, ok := spend[limit.TimeFrame]
			if !ok {
				start, err := RollingWindowStart(limit.TimeFrame, now)
				if err != nil {
					return nil, err
				}
				s, err := e.SpendInWindow(ctx, scoped.target, start, now)
				if err != nil {
					return nil, err
				}
				spend[limit.TimeFrame] = s
				current = s
			}
			current = ledger.AddSat(current, max(estimatedCost, 0))

			passed := current <= limit.Amount
			e.metrics.RecordLimitCheck(string(scoped.target.Scope), string(limit.TimeFrame), passed)
			log.Debug().
				Str("workspaceId", account.ID).
				Str("agentId", scoped.target.AgentID).
				Str("scope", string(scoped.target.Scope)).
				Str("timeFrame", string(limit.TimeFrame)).
				Int64("limit", limit.Amount).
				Int64("current", current).
				Bool("passed", passed).
				Msg("Evaluated spending limit")

			if !passed {
				res.Passed = false
				res.FailedLimits = append(res.FailedLimits, model.FailedLimit{
					Scope:     scoped.target.Scope,
					TimeFrame: limit.TimeFrame,
					Limit:     limit.Amount,
					Current:   current,
				})
				e.metrics.RecordLimitHit(string(scoped.target.Scope))
			}
		}
	}

	e.metrics.ObserveCheck(res.Passed, time.Since(started))
	return res, nil
}

// Status reports one usage window per configured limit without an estimate.
func (e *Evaluator) Status(ctx context.Context, account *model.WorkspaceAccount, agent *model.AgentPolicy) ([]model.UsageWindow, error) {
	now := e.now()
	windows := []model.UsageWindow{}
	for _, scoped := range e.scopes(account, agent) {
		for _, limit := range scoped.limits {
			start, err := RollingWindowStart(limit.TimeFrame, now)
			if err != nil {
				return nil, err
			}
			spend, err := e.SpendInWindow(ctx, scoped.target, start, now)
			if err != nil {
				return nil, err
			}
			windows = append(windows, model.UsageWindow{
				Scope:        scoped.target.Scope,
				TimeFrame:    limit.TimeFrame,
				StartDate:    start,
				EndDate:      now,
				CurrentSpend: spend,
				Limit:        limit.Amount,
			})
		}
	}
	return windows, nil
}

type scopedLimits struct {
	target Target
	limits []model.SpendingLimit
}

func (e *Evaluator) scopes(account *model.WorkspaceAccount, agent *model.AgentPolicy) []scopedLimits {
	out := []scopedLimits{{
		target: Target{
			Scope:       model.ScopeWorkspace,
			WorkspaceID: account.ID,
			Currency:    account.Currency,
		},
		limits: account.SpendingLimits,
	}}
	if agent != nil {
		out = append(out, scopedLimits{
			target: Target{
				Scope:       model.ScopeAgent,
				WorkspaceID: account.ID,
				AgentID:     agent.AgentID,
				Currency:    account.Currency,
			},
			limits: agent.SpendingLimits,
		})
	}
	return out
}
