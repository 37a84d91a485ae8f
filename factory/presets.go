package factory

import (
	"encoding/json"

	"github.com/warp/loan-engine/lending"
)

// =============================================================================
// PRESET POLICIES
// =============================================================================

// StandardPolicyJSON is the default regulatory table: 1 / 5 / 20 / 50 / 100
// percent at 0, 1, 31, 61 and 91 days in arrears.
func StandardPolicyJSON() string {
	pj := map[string]interface{}{
		"name":    "standard",
		"version": 1,
		"tiers": []map[string]interface{}{
			{"tier": "performing", "min_days": 0, "max_days": 1, "rate_percent": 1},
			{"tier": "watch", "min_days": 1, "max_days": 31, "rate_percent": 5},
			{"tier": "substandard", "min_days": 31, "max_days": 61, "rate_percent": 20},
			{"tier": "doubtful", "min_days": 61, "max_days": 91, "rate_percent": 50},
			{"tier": "loss", "min_days": 91, "rate_percent": 100},
		},
		"written_off_rate_percent": 100,
		"health_weights": map[string]interface{}{
			"performing":  1,
			"watch":       0.75,
			"substandard": 0.40,
			"doubtful":    0.15,
			"loss":        0,
			"written_off": 0,
		},
		"accrual": map[string]interface{}{
			"day_count_basis":      365,
			"penalty_rate_percent": 0,
		},
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// ConservativePolicyJSON tightens the buckets for short-tenor consumer
// books: watch after one day, loss after 60.
func ConservativePolicyJSON() string {
	pj := map[string]interface{}{
		"name":    "conservative",
		"version": 1,
		"tiers": []map[string]interface{}{
			{"tier": "performing", "min_days": 0, "max_days": 1, "rate_percent": 2},
			{"tier": "watch", "min_days": 1, "max_days": 16, "rate_percent": 10},
			{"tier": "substandard", "min_days": 16, "max_days": 31, "rate_percent": 30},
			{"tier": "doubtful", "min_days": 31, "max_days": 61, "rate_percent": 60},
			{"tier": "loss", "min_days": 61, "rate_percent": 100},
		},
		"written_off_rate_percent": 100,
		"accrual": map[string]interface{}{
			"day_count_basis":      360,
			"penalty_rate_percent": 0.05,
		},
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// StandardPolicy is StandardPolicyJSON parsed. Panics only if the preset
// itself is broken.
func StandardPolicy() lending.ProvisioningPolicy {
	policy, _ := mustParse(StandardPolicyJSON())
	return policy
}

// StandardSettings are the settings carried by StandardPolicyJSON.
func StandardSettings() Settings {
	_, settings := mustParse(StandardPolicyJSON())
	return settings
}

// Presets lists the built-in policies by name.
func Presets() map[string]string {
	return map[string]string{
		"standard":     StandardPolicyJSON(),
		"conservative": ConservativePolicyJSON(),
	}
}

func mustParse(doc string) (lending.ProvisioningPolicy, Settings) {
	policy, settings, err := NewPolicyFactory().ParsePolicy(doc)
	if err != nil {
		panic("factory: invalid preset: " + err.Error())
	}
	return *policy, settings
}
