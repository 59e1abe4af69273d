// Package pricing maps provider/model pairs to per-token prices and turns
// token counts into nano-unit costs. Every component is rounded up.
package pricing

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/djinilabs/helpmaton-sub006/internal/ledger"
	"github.com/djinilabs/helpmaton-sub006/internal/model"
)

const tokensPerMTok = 1_000_000

// MaxTokensPerCall bounds every token count fed into a price calculation.
const MaxTokensPerCall int64 = 100_000_000

var ErrUnknownModel = errors.New("unknown model")

// ModelPrice holds USD nanos per million tokens.
type ModelPrice struct {
	Pattern            string
	InputPerMTok       int64
	CachedInputPerMTok int64
	OutputPerMTok      int64
	ReasoningPerMTok   int64
}

// Table is safe for concurrent use; Replace swaps the whole table at once.
type Table struct {
	mu        sync.RWMutex
	providers map[string][]ModelPrice
	// rates converts USD nanos into other currencies, scaled by 10^9.
	rates map[model.Currency]int64
}

func NewTable(providers map[string][]ModelPrice, rates map[model.Currency]int64) *Table {
	t := &Table{}
	t.set(providers, rates)
	return t
}

func (t *Table) set(providers map[string][]ModelPrice, rates map[model.Currency]int64) {
	norm := make(map[string][]ModelPrice, len(providers))
	for name, prices := range providers {
		norm[strings.ToLower(strings.TrimSpace(name))] = prices
	}
	r := map[model.Currency]int64{model.CurrencyUSD: ledger.NanosPerUnit}
	for c, v := range rates {
		r[c] = v
	}
	t.providers = norm
	t.rates = r
}

// Replace installs the contents of other.
func (t *Table) Replace(other *Table) {
	other.mu.RLock()
	providers, rates := other.providers, other.rates
	other.mu.RUnlock()

	t.mu.Lock()
	t.providers = providers
	t.rates = rates
	t.mu.Unlock()
}

// Lookup returns the first price whose pattern matches the model. Patterns
// are listed most specific first.
func (t *Table) Lookup(provider, modelName string) (ModelPrice, bool) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	modelName = strings.ToLower(strings.TrimSpace(modelName))
	if provider == "" || modelName == "" {
		return ModelPrice{}, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.providers[provider] {
		if wildcard.Match(strings.ToLower(p.Pattern), modelName) {
			return p, true
		}
	}
	return ModelPrice{}, false
}

// Cost prices measured usage in the given currency. Cached prompt tokens are
// a subset of PromptTokens and billed at the cached rate.
func (t *Table) Cost(provider, modelName string, usage model.TokenUsage, currency model.Currency) (int64, error) {
	price, ok := t.Lookup(provider, modelName)
	if !ok {
		return 0, fmt.Errorf("%w: %s/%s", ErrUnknownModel, provider, modelName)
	}

	prompt := clampTokens(usage.PromptTokens)
	cached := min(clampTokens(usage.CachedPromptTokens), prompt)
	uncached := prompt - cached

	var usd int64
	for _, part := range []int64{
		ledger.MulCeil(price.InputPerMTok, uncached, tokensPerMTok),
		ledger.MulCeil(price.CachedInputPerMTok, cached, tokensPerMTok),
		ledger.MulCeil(price.OutputPerMTok, clampTokens(usage.CompletionTokens), tokensPerMTok),
		ledger.MulCeil(price.ReasoningPerMTok, clampTokens(usage.ReasoningTokens), tokensPerMTok),
	} {
		usd = ledger.AddSat(usd, part)
	}

	return t.convert(usd, currency)
}

func clampTokens(n int64) int64 {
	return min(max(n, 0), MaxTokensPerCall)
}

func (t *Table) convert(usd int64, currency model.Currency) (int64, error) {
	t.mu.RLock()
	rate, ok := t.rates[currency]
	t.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("no exchange rate for %s", currency)
	}
	return ledger.MulCeil(usd, rate, ledger.NanosPerUnit), nil
}

const DefaultMaxOutputTokens = 1024

type EstimateRequest struct {
	PromptChars     int64 `json:"promptChars"`
	MessageCount    int   `json:"messageCount"`
	MaxOutputTokens int64 `json:"maxOutputTokens,omitempty"`
}

// EstimateTokens approximates prompt tokens at four characters per token plus
// per-message and per-request overhead.
// The result never exceeds MaxTokensPerCall.
func EstimateTokens(req EstimateRequest) int64 {
	chars := min(max(req.PromptChars, 0), 4*MaxTokensPerCall)
	messages := min(max(int64(req.MessageCount), 0), MaxTokensPerCall)
	return clampTokens((chars+3)/4 + 4*messages + 3)
}

// Estimate prices a pending call assuming it produces its full output budget.
func (t *Table) Estimate(provider, modelName string, req EstimateRequest, currency model.Currency) (int64, error) {
	out := req.MaxOutputTokens
	if out <= 0 {
		out = DefaultMaxOutputTokens
	}
	out = clampTokens(out)
	return t.Cost(provider, modelName, model.TokenUsage{
		PromptTokens:     EstimateTokens(req),
		CompletionTokens: out,
	}, currency)
}
