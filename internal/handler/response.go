package handler

import (
	"encoding/json"
	"net/http"

	"github.com/djinilabs/helpmaton-sub006/internal/httputil"
	"github.com/djinilabs/helpmaton-sub006/internal/ledger"
	"github.com/djinilabs/helpmaton-sub006/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// money renders an amount both exactly and for display.
type money struct {
	Nanos     int64  `json:"nanos"`
	Formatted string `json:"formatted"`
}

func newMoney(nanos int64, currency model.Currency) money {
	return money{Nanos: nanos, Formatted: ledger.FormatIn(nanos, currency)}
}

// amountInput accepts either exact nanos or a decimal string such as "12.50".
type amountInput struct {
	Nanos  *int64 `json:"nanos,omitempty"`
	Amount string `json:"amount,omitempty"`
}

func (a amountInput) resolve() (int64, bool, error) {
	if a.Nanos != nil {
		return *a.Nanos, true, nil
	}
	if a.Amount == "" {
		return 0, false, nil
	}
	n, err := ledger.Parse(a.Amount)
	return n, true, err
}
