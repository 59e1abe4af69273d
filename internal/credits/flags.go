package credits

import "sync/atomic"

// FeatureFlags is read on every settle, never cached by callers.
type FeatureFlags interface {
	CreditDeductionEnabled() bool
}

type StaticFlags struct {
	CreditDeduction bool
}

func (f StaticFlags) CreditDeductionEnabled() bool { return f.CreditDeduction }

// ToggleFlags can be flipped at runtime, e.g. from an operator endpoint.
type ToggleFlags struct {
	deduction atomic.Bool
}

func NewToggleFlags(enabled bool) *ToggleFlags {
	f := &ToggleFlags{}
	f.deduction.Store(enabled)
	return f
}

func (f *ToggleFlags) CreditDeductionEnabled() bool { return f.deduction.Load() }

func (f *ToggleFlags) SetCreditDeduction(enabled bool) { f.deduction.Store(enabled) }
