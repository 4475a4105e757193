// Package gate decides whether a company may use a given AI capability.
//
// The decision is two-tiered: the company-wide ai_enabled switch first,
// then the per-capability toggle. A company with no settings row at all is
// treated as disabled.
package gate

import (
	"errors"
	"fmt"

	"github.com/strataops/strata/internal/model"
)

// ErrFeatureDisabled is returned when the company's settings deny the
// requested capability.
var ErrFeatureDisabled = errors.New("gate: feature disabled")

// Check returns nil when settings permit key, or an error wrapping
// ErrFeatureDisabled explaining which tier denied it. A nil settings
// pointer means no row exists for the company and everything is denied.
func Check(settings *model.CompanyAISettings, key model.FeatureKey) error {
	if settings == nil || !settings.AIEnabled {
		return fmt.Errorf("%w: ai is not enabled for this company", ErrFeatureDisabled)
	}
	if !settings.Allows(key) {
		return fmt.Errorf("%w: %s is not enabled for this company", ErrFeatureDisabled, key)
	}
	return nil
}
