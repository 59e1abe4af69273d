package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/djinilabs/helpmaton-sub006/internal/audit"
	apperrors "github.com/djinilabs/helpmaton-sub006/internal/errors"
	"github.com/djinilabs/helpmaton-sub006/internal/httputil"
	"github.com/djinilabs/helpmaton-sub006/internal/limits"
	"github.com/djinilabs/helpmaton-sub006/internal/model"
)

type WorkspaceStore interface {
	FindByID(ctx context.Context, id string) (*model.WorkspaceAccount, error)
	UpdateSpendingLimits(ctx context.Context, id string, limits model.SpendingLimits) error
}

type AgentStore interface {
	FindPolicy(ctx context.Context, workspaceID, agentID string) (*model.AgentPolicy, error)
	UpdateSpendingLimits(ctx context.Context, workspaceID, agentID string, limits model.SpendingLimits) error
}

// LimitEvaluator is satisfied by *limits.Evaluator.
type LimitEvaluator interface {
	CheckLimits(ctx context.Context, account *model.WorkspaceAccount, agent *model.AgentPolicy, estimatedCost int64) (*limits.Result, error)
	Status(ctx context.Context, account *model.WorkspaceAccount, agent *model.AgentPolicy) ([]model.UsageWindow, error)
}

type SpendingHandler struct {
	workspaces WorkspaceStore
	agents     AgentStore
	evaluator  LimitEvaluator
}

func NewSpendingHandler(workspaces WorkspaceStore, agents AgentStore, evaluator LimitEvaluator) *SpendingHandler {
	return &SpendingHandler{
		workspaces: workspaces,
		agents:     agents,
		evaluator:  evaluator,
	}
}

func (h *SpendingHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.Status)
	r.Post("/check", h.Check)
	r.Put("/limits", h.UpdateLimits)

	return r
}

type windowResponse struct {
	Scope        model.Scope     `json:"scope"`
	TimeFrame    model.TimeFrame `json:"timeFrame"`
	StartDate    string          `json:"startDate"`
	EndDate      string          `json:"endDate"`
	CurrentSpend money           `json:"currentSpend"`
	Limit        money           `json:"limit"`
	Remaining    money           `json:"remaining"`
}

// GET /ops/workspaces/{workspaceID}/spending?agentId=
func (h *SpendingHandler) Status(w http.ResponseWriter, r *http.Request) {
	account, agent, err := h.load(r.Context(), chi.URLParam(r, "workspaceID"), r.URL.Query().Get("agentId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	windows, err := h.evaluator.Status(r.Context(), account, agent)
	if err != nil {
		httputil.WriteError(w, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to compute spend", err))
		return
	}

	out := make([]windowResponse, 0, len(windows))
	for _, win := range windows {
		out = append(out, windowResponse{
			Scope:        win.Scope,
			TimeFrame:    win.TimeFrame,
			StartDate:    win.StartDate.Format(time.RFC3339),
			EndDate:      win.EndDate.Format(time.RFC3339),
			CurrentSpend: newMoney(win.CurrentSpend, account.Currency),
			Limit:        newMoney(win.Limit, account.Currency),
			Remaining:    newMoney(max(win.Limit-win.CurrentSpend, 0), account.Currency),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"workspaceId":   account.ID,
		"currency":      account.Currency,
		"creditBalance": newMoney(account.CreditBalance, account.Currency),
		"windows":       out,
	})
}

// POST /ops/workspaces/{workspaceID}/spending/check
// Answers whether a pending cost would pass every limit. Responds 402 with
// the failed limits otherwise.
func (h *SpendingHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID       string      `json:"agentId"`
		EstimatedCost amountInput `json:"estimatedCost"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	estimate, ok, err := req.EstimatedCost.resolve()
	if err != nil || !ok {
		httputil.WriteError(w, apperrors.InvalidInput("estimatedCost", "a decimal amount or nanos is required"))
		return
	}
	if estimate < 0 {
		httputil.WriteError(w, apperrors.InvalidInput("estimatedCost", "must not be negative"))
		return
	}

	workspaceID := chi.URLParam(r, "workspaceID")
	account, agent, err := h.load(r.Context(), workspaceID, req.AgentID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.evaluator.CheckLimits(r.Context(), account, agent, estimate)
	if err != nil {
		httputil.WriteError(w, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to check spending limits", err))
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:        audit.EventSpendingCheckRequest,
		WorkspaceID: workspaceID,
		AgentID:     req.AgentID,
		Details:     map[string]interface{}{"estimate": estimate, "passed": result.Passed},
	})

	if !result.Passed {
		httputil.WriteError(w, &apperrors.SpendingLimitExceededError{
			WorkspaceID:  account.ID,
			Currency:     account.Currency,
			FailedLimits: result.FailedLimits,
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PUT /ops/workspaces/{workspaceID}/spending/limits
// With agentId set the agent's limits are replaced instead of the workspace's.
func (h *SpendingHandler) UpdateLimits(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agentId"`
		Limits  []struct {
			TimeFrame model.TimeFrame `json:"timeFrame"`
			amountInput
		} `json:"limits"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	spendingLimits := make(model.SpendingLimits, 0, len(req.Limits))
	for _, l := range req.Limits {
		if !l.TimeFrame.Valid() {
			httputil.WriteError(w, apperrors.InvalidInput("timeFrame", "must be daily, weekly or monthly"))
			return
		}
		amount, ok, err := l.resolve()
		if err != nil || !ok || amount < 0 {
			httputil.WriteError(w, apperrors.InvalidInput("amount", "must be a non-negative decimal amount"))
			return
		}
		spendingLimits = append(spendingLimits, model.SpendingLimit{TimeFrame: l.TimeFrame, Amount: amount})
	}

	workspaceID := chi.URLParam(r, "workspaceID")
	if _, _, err := h.load(r.Context(), workspaceID, req.AgentID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	var err error
	if req.AgentID != "" {
		err = h.agents.UpdateSpendingLimits(r.Context(), workspaceID, req.AgentID, spendingLimits)
	} else {
		err = h.workspaces.UpdateSpendingLimits(r.Context(), workspaceID, spendingLimits)
	}
	if err != nil {
		httputil.WriteError(w, apperrors.Database(err))
		return
	}

	resp := map[string]any{
		"workspaceId":    workspaceID,
		"spendingLimits": spendingLimits,
	}
	if req.AgentID != "" {
		resp["agentId"] = req.AgentID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SpendingHandler) load(ctx context.Context, workspaceID, agentID string) (*model.WorkspaceAccount, *model.AgentPolicy, error) {
	account, err := h.workspaces.FindByID(ctx, workspaceID)
	if err != nil {
		return nil, nil, apperrors.Database(err)
	}
	if account == nil {
		return nil, nil, apperrors.NotFound("Workspace")
	}
	if agentID == "" {
		return account, nil, nil
	}

	agent, err := h.agents.FindPolicy(ctx, workspaceID, agentID)
	if err != nil {
		return nil, nil, apperrors.Database(err)
	}
	if agent == nil {
		return nil, nil, apperrors.NotFound("Agent")
	}
	return account, agent, nil
}
