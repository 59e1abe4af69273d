package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/djinilabs/helpmaton-sub006/internal/credits"
	apperrors "github.com/djinilabs/helpmaton-sub006/internal/errors"
	"github.com/djinilabs/helpmaton-sub006/internal/httputil"
	"github.com/djinilabs/helpmaton-sub006/internal/model"
)

// Metering is satisfied by *credits.Meter.
type Metering interface {
	Reserve(ctx context.Context, req credits.ReserveRequest) (*model.CreditReservation, error)
	Settle(ctx context.Context, res *model.CreditReservation, req credits.SettleRequest)
	Release(ctx context.Context, res *model.CreditReservation, workspaceID string)
}

// DeductionToggle is satisfied by *credits.ToggleFlags.
type DeductionToggle interface {
	CreditDeductionEnabled() bool
	SetCreditDeduction(enabled bool)
}

// MeteringHandler lets a billed-operation runner outside this process drive
// the reserve and settle steps over HTTP.
type MeteringHandler struct {
	meter Metering
	flags DeductionToggle
}

func NewMeteringHandler(meter Metering, flags DeductionToggle) *MeteringHandler {
	return &MeteringHandler{meter: meter, flags: flags}
}

func (h *MeteringHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/reservations", h.Reserve)
	r.Post("/reservations/{reservationID}/settle", h.Settle)
	r.Post("/reservations/{reservationID}/release", h.Release)
	r.Get("/flags/credit-deduction", h.GetDeduction)
	r.Put("/flags/credit-deduction", h.SetDeduction)

	return r
}

// POST /ops/metering/reservations
// Responds 402 with the typed error payload when the operation must not run.
func (h *MeteringHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req credits.ReserveRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if req.WorkspaceID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("workspaceId"))
		return
	}
	if req.Provider == "" || req.Model == "" {
		httputil.WriteError(w, apperrors.MissingRequired("provider and model"))
		return
	}

	res, err := h.meter.Reserve(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if res == nil {
		writeJSON(w, http.StatusOK, map[string]any{"reservation": nil})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"reservation": res})
}

// POST /ops/metering/reservations/{reservationID}/settle
// Always 202 once the body is valid; adjustment failures are logged only.
func (h *MeteringHandler) Settle(w http.ResponseWriter, r *http.Request) {
	var req credits.SettleRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if req.WorkspaceID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("workspaceId"))
		return
	}

	res := &model.CreditReservation{ReservationID: chi.URLParam(r, "reservationID")}
	h.meter.Settle(r.Context(), res, req)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// POST /ops/metering/reservations/{reservationID}/release
func (h *MeteringHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkspaceID string `json:"workspaceId"`
	}
	if err := decodeJSON(r, &req); err != nil || req.WorkspaceID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("workspaceId"))
		return
	}

	res := &model.CreditReservation{ReservationID: chi.URLParam(r, "reservationID")}
	h.meter.Release(r.Context(), res, req.WorkspaceID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// GET /ops/metering/flags/credit-deduction
func (h *MeteringHandler) GetDeduction(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": h.flags.CreditDeductionEnabled()})
}

// PUT /ops/metering/flags/credit-deduction
func (h *MeteringHandler) SetDeduction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Enabled == nil {
		httputil.WriteError(w, apperrors.MissingRequired("enabled"))
		return
	}

	h.flags.SetCreditDeduction(*req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}
