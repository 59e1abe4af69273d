package pricing

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/djinilabs/helpmaton-sub006/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	table := DefaultTable()

	tests := []struct {
		provider string
		model    string
		pattern  string
		found    bool
	}{
		{"openai", "gpt-4o-mini-2024-07-18", "gpt-4o-mini*", true},
		{"openai", "gpt-4o-2024-08-06", "gpt-4o*", true},
		{"OpenAI", " GPT-4o ", "gpt-4o*", true},
		{"anthropic", "claude-sonnet-4-5", "claude-sonnet*", true},
		{"openrouter", "meta/llama-3", "*", true},
		{"openai", "davinci", "", false},
		{"unknown", "gpt-4o", "", false},
		{"", "gpt-4o", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.provider+"/"+tc.model, func(t *testing.T) {
			p, ok := table.Lookup(tc.provider, tc.model)
			assert.Equal(t, tc.found, ok)
			assert.Equal(t, tc.pattern, p.Pattern)
		})
	}
}

func TestCost(t *testing.T) {
	table := DefaultTable()

	t.Run("prices input and output per million tokens", func(t *testing.T) {
		cost, err := table.Cost("anthropic", "claude-sonnet-4", model.TokenUsage{PromptTokens: 1000, CompletionTokens: 500}, model.CurrencyUSD)
		require.NoError(t, err)
		assert.Equal(t, int64(10_500_000), cost)
	})

	t.Run("bills cached prompt tokens at the cached rate", func(t *testing.T) {
		cost, err := table.Cost("anthropic", "claude-sonnet-4", model.TokenUsage{PromptTokens: 1000, CachedPromptTokens: 1000}, model.CurrencyUSD)
		require.NoError(t, err)
		assert.Equal(t, int64(300_000), cost)
	})

	t.Run("rounds each component up", func(t *testing.T) {
		// one token at $0.15 per MTok is 150 nanos, 118.5 after GBP conversion
		cost, err := table.Cost("openai", "gpt-4o-mini", model.TokenUsage{PromptTokens: 1}, model.CurrencyGBP)
		require.NoError(t, err)
		assert.Equal(t, int64(119), cost)
	})

	t.Run("converts to workspace currency", func(t *testing.T) {
		cost, err := table.Cost("anthropic", "claude-sonnet-4", model.TokenUsage{PromptTokens: 1000, CompletionTokens: 500}, model.CurrencyEUR)
		require.NoError(t, err)
		assert.Equal(t, int64(9_660_000), cost)
	})

	t.Run("unknown model", func(t *testing.T) {
		_, err := table.Cost("openai", "davinci", model.TokenUsage{PromptTokens: 1}, model.CurrencyUSD)
		assert.True(t, errors.Is(err, ErrUnknownModel))
	})
}

func TestEstimate(t *testing.T) {
	assert.Equal(t, int64(111), EstimateTokens(EstimateRequest{PromptChars: 400, MessageCount: 2}))
	assert.Equal(t, int64(5), EstimateTokens(EstimateRequest{PromptChars: 1}))

	cost, err := DefaultTable().Estimate("openai", "gpt-4o-mini", EstimateRequest{PromptChars: 400, MessageCount: 2}, model.CurrencyUSD)
	require.NoError(t, err)
	assert.Equal(t, int64(16_650+614_400), cost)

	cost, err = DefaultTable().Estimate("openai", "gpt-4o-mini", EstimateRequest{PromptChars: 400, MessageCount: 2, MaxOutputTokens: 10}, model.CurrencyUSD)
	require.NoError(t, err)
	assert.Equal(t, int64(16_650+6_000), cost)
}

func TestEstimateExtremeInputs(t *testing.T) {
	table := DefaultTable()

	tests := []struct {
		name string
		req  EstimateRequest
		want int64
	}{
		{
			name: "output budget is capped",
			req:  EstimateRequest{PromptChars: 400, MessageCount: 2, MaxOutputTokens: math.MaxInt64},
			want: 16_650 + 60_000_000_000,
		},
		{
			name: "negative inputs fall back to defaults",
			req:  EstimateRequest{PromptChars: math.MinInt64, MessageCount: math.MinInt, MaxOutputTokens: math.MinInt64},
			want: 450 + 614_400,
		},
		{
			name: "prompt and messages are capped",
			req:  EstimateRequest{PromptChars: math.MaxInt64, MessageCount: math.MaxInt, MaxOutputTokens: math.MaxInt64},
			want: 15_000_000_000 + 60_000_000_000,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cost, err := table.Estimate("openai", "gpt-4o-mini", tc.req, model.CurrencyUSD)
			require.NoError(t, err)
			assert.Positive(t, cost)
			assert.Equal(t, tc.want, cost)
		})
	}

	assert.Equal(t, MaxTokensPerCall, EstimateTokens(EstimateRequest{PromptChars: math.MaxInt64, MessageCount: math.MaxInt}))
}

func TestCostSaturates(t *testing.T) {
	t.Run("token counts outside the range are clamped", func(t *testing.T) {
		cost, err := DefaultTable().Cost("openai", "gpt-4o-mini", model.TokenUsage{
			PromptTokens:       math.MaxInt64,
			CachedPromptTokens: math.MinInt64,
			CompletionTokens:   math.MinInt64,
			ReasoningTokens:    math.MaxInt64,
		}, model.CurrencyUSD)
		require.NoError(t, err)
		assert.Positive(t, cost)
	})

	t.Run("sum of components never wraps", func(t *testing.T) {
		table := NewTable(map[string][]ModelPrice{
			"acme": {{
				Pattern:            "*",
				InputPerMTok:       math.MaxInt64,
				CachedInputPerMTok: math.MaxInt64,
				OutputPerMTok:      math.MaxInt64,
				ReasoningPerMTok:   math.MaxInt64,
			}},
		}, nil)

		cost, err := table.Cost("acme", "anything", model.TokenUsage{
			PromptTokens:     MaxTokensPerCall,
			CompletionTokens: MaxTokensPerCall,
			ReasoningTokens:  MaxTokensPerCall,
		}, model.CurrencyUSD)
		require.NoError(t, err)
		assert.Equal(t, int64(math.MaxInt64), cost)

		est, err := table.Estimate("acme", "anything", EstimateRequest{PromptChars: 4000, MaxOutputTokens: math.MaxInt64}, model.CurrencyUSD)
		require.NoError(t, err)
		assert.Equal(t, int64(math.MaxInt64), est)
	})
}

const sampleFile = `
rates:
  eur: "0.5"
providers:
  acme:
    - pattern: "rocket-mini*"
      input: "1"
      output: "2"
    - pattern: "rocket*"
      input: "10"
      cached_input: "1"
      output: "20"
      reasoning: "40"
`

func TestParse(t *testing.T) {
	table, err := Parse([]byte(sampleFile))
	require.NoError(t, err)

	p, ok := table.Lookup("acme", "rocket-mini-1")
	require.True(t, ok)
	assert.Equal(t, int64(1_000_000_000), p.CachedInputPerMTok, "cached falls back to input")
	assert.Equal(t, int64(2_000_000_000), p.ReasoningPerMTok, "reasoning falls back to output")

	cost, err := table.Cost("acme", "rocket-2", model.TokenUsage{ReasoningTokens: 1_000_000}, model.CurrencyEUR)
	require.NoError(t, err)
	assert.Equal(t, int64(20_000_000_000), cost)

	t.Run("rejects missing price", func(t *testing.T) {
		_, err := Parse([]byte("providers:\n  acme:\n    - pattern: x\n      input: \"1\"\n"))
		assert.ErrorContains(t, err, "output")
	})

	t.Run("rejects unknown currency", func(t *testing.T) {
		_, err := Parse([]byte("rates:\n  jpy: \"150\"\n"))
		assert.ErrorContains(t, err, "jpy")
	})
}

func TestWatchReloadsTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o644))

	table, err := LoadFile(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, table, nil) }()
	defer func() {
		cancel()
		<-done
	}()

	updated := "providers:\n  acme:\n    - pattern: \"rocket*\"\n      input: \"7\"\n      output: \"7\"\n"
	assert.Eventually(t, func() bool {
		// rewrite until the watcher is registered and picks it up
		_ = os.WriteFile(path, []byte(updated), 0o644)
		p, ok := table.Lookup("acme", "rocket-2")
		return ok && p.InputPerMTok == 7_000_000_000
	}, 5*time.Second, 300*time.Millisecond)
}
