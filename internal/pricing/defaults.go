package pricing

import (
	"github.com/djinilabs/helpmaton-sub006/internal/ledger"
	"github.com/djinilabs/helpmaton-sub006/internal/model"
)

func mtok(s string) int64 {
	n, err := ledger.Parse(s)
	if err != nil {
		panic(err)
	}
	return n
}

func price(pattern, input, cached, output string) ModelPrice {
	return ModelPrice{
		Pattern:            pattern,
		InputPerMTok:       mtok(input),
		CachedInputPerMTok: mtok(cached),
		OutputPerMTok:      mtok(output),
		ReasoningPerMTok:   mtok(output),
	}
}

// DefaultTable is used when no pricing file is configured.
func DefaultTable() *Table {
	return NewTable(map[string][]ModelPrice{
		"openai": {
			price("gpt-4o-mini*", "0.15", "0.075", "0.60"),
			price("gpt-4o*", "2.50", "1.25", "10.00"),
			price("gpt-4.1-mini*", "0.40", "0.10", "1.60"),
			price("gpt-4.1*", "2.00", "0.50", "8.00"),
			price("o3-mini*", "1.10", "0.55", "4.40"),
		},
		"anthropic": {
			price("claude-opus*", "15.00", "1.50", "75.00"),
			price("claude-sonnet*", "3.00", "0.30", "15.00"),
			price("claude-haiku*", "0.80", "0.08", "4.00"),
		},
		"google": {
			price("gemini-2.5-pro*", "1.25", "0.31", "10.00"),
			price("gemini-2.5-flash*", "0.30", "0.075", "2.50"),
		},
		"openrouter": {
			price("*", "5.00", "5.00", "15.00"),
		},
	}, map[model.Currency]int64{
		model.CurrencyEUR: mtok("0.92"),
		model.CurrencyGBP: mtok("0.79"),
	})
}
