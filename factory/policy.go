/*
Package factory provides JSON/YAML to Go provisioning policy conversion.

PURPOSE:
  Converts policy documents into lending.ProvisioningPolicy plus the engine
  settings that travel with it (health score weights, accrual options).
  Risk teams change thresholds and rates in a file or through the API; the
  factory turns that into validated Go structs.

JSON SCHEMA:
  {
    "name": "standard",
    "version": 1,
    "tiers": [
      {"tier": "performing",  "min_days": 0,  "max_days": 1,  "rate_percent": 1},
      {"tier": "watch",       "min_days": 1,  "max_days": 31, "rate_percent": 5},
      {"tier": "substandard", "min_days": 31, "max_days": 61, "rate_percent": 20},
      {"tier": "doubtful",    "min_days": 61, "max_days": 91, "rate_percent": 50},
      {"tier": "loss",        "min_days": 91,                 "rate_percent": 100}
    ],
    "written_off_rate_percent": 100,
    "health_weights": {"performing": 1, "watch": 0.75, ...},
    "accrual": {"day_count_basis": 365, "penalty_rate_percent": 0}
  }

  max_days is exclusive; omit it for the open-ended last tier. YAML files
  use the same keys.

VALIDATION:
  Two layers: struct tags (go-playground/validator) catch malformed
  documents, then ProvisioningPolicy.Validate checks the table itself.
  Both surface as errors wrapping lending.ErrInvalidPolicy.

USAGE:
  f := NewPolicyFactory()
  policy, settings, err := f.ParsePolicy(jsonString)
  policy, settings, err := f.LoadFile("policy.yaml")

SEE ALSO:
  - lending/policy.go: ProvisioningPolicy
  - factory/presets.go: built-in policies
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/loan-engine/lending"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the document form of a provisioning policy.
type PolicyJSON struct {
	Name                  string                     `json:"name" validate:"required"`
	Version               int                        `json:"version" validate:"gte=0"`
	Tiers                 []TierRowJSON              `json:"tiers" validate:"required,min=1,dive"`
	WrittenOffRatePercent *decimal.Decimal           `json:"written_off_rate_percent,omitempty"`
	HealthWeights         map[string]decimal.Decimal `json:"health_weights,omitempty"`
	Accrual               *AccrualJSON               `json:"accrual,omitempty"`
}

// TierRowJSON is one threshold row.
type TierRowJSON struct {
	Tier        string          `json:"tier" validate:"required,oneof=performing watch substandard doubtful loss"`
	MinDays     int             `json:"min_days" validate:"gte=0"`
	MaxDays     *int            `json:"max_days,omitempty" validate:"omitempty,gte=1"`
	RatePercent decimal.Decimal `json:"rate_percent"`
}

// AccrualJSON configures interest and penalty accrual.
type AccrualJSON struct {
	DayCountBasis      int              `json:"day_count_basis,omitempty" validate:"omitempty,oneof=360 365 366"`
	PenaltyRatePercent *decimal.Decimal `json:"penalty_rate_percent,omitempty"`
}

// Settings are the engine parameters carried alongside a policy.
type Settings struct {
	HealthWeights      lending.HealthWeights
	DayCountBasis      int
	PenaltyRatePercent decimal.Decimal
}

// AccrualOptions builds lending.AccrualOptions for a currency.
func (s Settings) AccrualOptions(currency lending.Currency) lending.AccrualOptions {
	opts := lending.DefaultAccrualOptions()
	opts.Currency = currency
	if s.DayCountBasis > 0 {
		opts.DayCountBasis = s.DayCountBasis
	}
	opts.PenaltyRatePercent = s.PenaltyRatePercent
	return opts
}

// DefaultSettings matches an empty document.
func DefaultSettings() Settings {
	return Settings{
		HealthWeights:      lending.DefaultHealthWeights(),
		DayCountBasis:      365,
		PenaltyRatePercent: decimal.Zero,
	}
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts policy documents to Go structs.
type PolicyFactory struct {
	validate *validator.Validate
}

func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{validate: validator.New()}
}

// ParsePolicy parses a JSON document.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (*lending.ProvisioningPolicy, Settings, error) {
	var pj PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, Settings{}, fmt.Errorf("%w: failed to parse policy JSON: %v", lending.ErrInvalidPolicy, err)
	}
	return f.FromJSON(pj)
}

// ParsePolicyYAML parses a YAML document with the same keys as JSON.
func (f *PolicyFactory) ParsePolicyYAML(data []byte) (*lending.ProvisioningPolicy, Settings, error) {
	// YAML -> generic tree -> JSON keeps one set of field tags and lets
	// decimal parse numbers from their JSON text.
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, Settings{}, fmt.Errorf("%w: failed to parse policy YAML: %v", lending.ErrInvalidPolicy, err)
	}
	raw, err := json.Marshal(tree)
	if err != nil {
		return nil, Settings{}, fmt.Errorf("%w: policy YAML is not a plain mapping: %v", lending.ErrInvalidPolicy, err)
	}
	return f.ParsePolicy(string(raw))
}

// LoadFile reads a policy file; .yaml/.yml are YAML, everything else JSON.
func (f *PolicyFactory) LoadFile(path string) (*lending.ProvisioningPolicy, Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Settings{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return f.ParsePolicyYAML(data)
	default:
		return f.ParsePolicy(string(data))
	}
}

// FromJSON converts PolicyJSON into a validated policy and its settings.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (*lending.ProvisioningPolicy, Settings, error) {
	if err := f.validate.Struct(pj); err != nil {
		return nil, Settings{}, fmt.Errorf("%w: %v", lending.ErrInvalidPolicy, err)
	}

	policy := &lending.ProvisioningPolicy{
		Name:                  pj.Name,
		Version:               pj.Version,
		WrittenOffRatePercent: decimal.NewFromInt(100),
	}
	if pj.WrittenOffRatePercent != nil {
		policy.WrittenOffRatePercent = *pj.WrittenOffRatePercent
	}
	for _, row := range pj.Tiers {
		pr := lending.PolicyRow{
			Tier:        lending.Tier(row.Tier),
			MinDays:     row.MinDays,
			RatePercent: row.RatePercent,
		}
		if row.MaxDays != nil {
			pr.MaxDays = lending.IntPtr(*row.MaxDays)
		}
		policy.Rows = append(policy.Rows, pr)
	}
	if err := policy.Validate(); err != nil {
		return nil, Settings{}, err
	}

	settings, err := parseSettings(pj)
	if err != nil {
		return nil, Settings{}, err
	}
	return policy, settings, nil
}

// ToJSON converts a policy and its settings back to document form.
func (f *PolicyFactory) ToJSON(policy lending.ProvisioningPolicy, settings Settings) PolicyJSON {
	written := policy.WrittenOffRatePercent
	penalty := settings.PenaltyRatePercent
	pj := PolicyJSON{
		Name:                  policy.Name,
		Version:               policy.Version,
		WrittenOffRatePercent: &written,
		Accrual: &AccrualJSON{
			DayCountBasis:      settings.DayCountBasis,
			PenaltyRatePercent: &penalty,
		},
	}
	for _, row := range policy.Rows {
		rj := TierRowJSON{Tier: string(row.Tier), MinDays: row.MinDays, RatePercent: row.RatePercent}
		if row.MaxDays != nil {
			rj.MaxDays = lending.IntPtr(*row.MaxDays)
		}
		pj.Tiers = append(pj.Tiers, rj)
	}
	if len(settings.HealthWeights) > 0 {
		pj.HealthWeights = make(map[string]decimal.Decimal, len(settings.HealthWeights))
		for tier, w := range settings.HealthWeights {
			pj.HealthWeights[string(tier)] = w
		}
	}
	return pj
}

// ToJSONString is ToJSON marshalled.
func (f *PolicyFactory) ToJSONString(policy lending.ProvisioningPolicy, settings Settings) (string, error) {
	b, err := json.Marshal(f.ToJSON(policy, settings))
	if err != nil {
		return "", fmt.Errorf("failed to encode policy: %w", err)
	}
	return string(b), nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseSettings(pj PolicyJSON) (Settings, error) {
	s := DefaultSettings()

	if len(pj.HealthWeights) > 0 {
		weights := lending.HealthWeights{}
		// Sorted so the first bad key reported is stable.
		keys := make([]string, 0, len(pj.HealthWeights))
		for k := range pj.HealthWeights {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			w := pj.HealthWeights[k]
			tier := lending.Tier(k)
			if !tier.Valid() {
				return Settings{}, fmt.Errorf("%w: unknown tier %q in health_weights", lending.ErrInvalidPolicy, k)
			}
			if w.IsNegative() || w.GreaterThan(decimal.NewFromInt(1)) {
				return Settings{}, fmt.Errorf("%w: health weight for %s must be within 0..1", lending.ErrInvalidPolicy, k)
			}
			weights[tier] = w
		}
		s.HealthWeights = weights
	}

	if pj.Accrual != nil {
		if pj.Accrual.DayCountBasis > 0 {
			s.DayCountBasis = pj.Accrual.DayCountBasis
		}
		if pj.Accrual.PenaltyRatePercent != nil {
			rate := *pj.Accrual.PenaltyRatePercent
			if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
				return Settings{}, fmt.Errorf("%w: penalty_rate_percent must be within 0..100", lending.ErrInvalidPolicy)
			}
			s.PenaltyRatePercent = rate
		}
	}
	return s, nil
}
