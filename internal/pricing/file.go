package pricing

import (
	"fmt"
	"os"

	"github.com/djinilabs/helpmaton-sub006/internal/ledger"
	"github.com/djinilabs/helpmaton-sub006/internal/model"
	"gopkg.in/yaml.v3"
)

// File is the on-disk pricing format. Prices are decimal USD strings per
// million tokens; rates are units of the currency per USD.
//
//	rates:
//	  eur: "0.92"
//	providers:
//	  openai:
//	    - pattern: "gpt-4o-mini*"
//	      input: "0.15"
//	      cached_input: "0.075"
//	      output: "0.60"
type File struct {
	Rates     map[model.Currency]string `yaml:"rates"`
	Providers map[string][]FilePrice    `yaml:"providers"`
}

type FilePrice struct {
	Pattern     string `yaml:"pattern"`
	Input       string `yaml:"input"`
	CachedInput string `yaml:"cached_input"`
	Output      string `yaml:"output"`
	Reasoning   string `yaml:"reasoning"`
}

// LoadFile reads a pricing table from a YAML file.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Table, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode pricing file: %w", err)
	}

	providers := make(map[string][]ModelPrice, len(f.Providers))
	for name, prices := range f.Providers {
		for i, fp := range prices {
			mp, err := fp.resolve()
			if err != nil {
				return nil, fmt.Errorf("provider %s entry %d: %w", name, i, err)
			}
			providers[name] = append(providers[name], mp)
		}
	}

	rates := make(map[model.Currency]int64, len(f.Rates))
	for c, s := range f.Rates {
		if !c.Valid() {
			return nil, fmt.Errorf("unknown currency %q", c)
		}
		r, err := ledger.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("rate %s: %w", c, err)
		}
		if r <= 0 {
			return nil, fmt.Errorf("rate %s must be positive", c)
		}
		rates[c] = r
	}
	return NewTable(providers, rates), nil
}

func (fp FilePrice) resolve() (ModelPrice, error) {
	if fp.Pattern == "" {
		return ModelPrice{}, fmt.Errorf("pattern is required")
	}
	input, err := parsePrice(fp.Input, "")
	if err != nil {
		return ModelPrice{}, fmt.Errorf("input: %w", err)
	}
	output, err := parsePrice(fp.Output, "")
	if err != nil {
		return ModelPrice{}, fmt.Errorf("output: %w", err)
	}
	cached, err := parsePrice(fp.CachedInput, fp.Input)
	if err != nil {
		return ModelPrice{}, fmt.Errorf("cached_input: %w", err)
	}
	reasoning, err := parsePrice(fp.Reasoning, fp.Output)
	if err != nil {
		return ModelPrice{}, fmt.Errorf("reasoning: %w", err)
	}
	return ModelPrice{
		Pattern:            fp.Pattern,
		InputPerMTok:       input,
		CachedInputPerMTok: cached,
		OutputPerMTok:      output,
		ReasoningPerMTok:   reasoning,
	}, nil
}

func parsePrice(s, fallback string) (int64, error) {
	if s == "" {
		s = fallback
	}
	if s == "" {
		return 0, fmt.Errorf("price is required")
	}
	n, err := ledger.Parse(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("price must not be negative")
	}
	return n, nil
}
