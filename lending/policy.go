/*
policy.go - Provisioning policy table

PURPOSE:
  Maps days in arrears onto a risk tier and each tier onto the share of
  net exposure that must be reserved as a loss provision. The table is
  configuration: loaded once per engine invocation and never mutated by
  loan activity.

MATCHING:
  Rows cover half-open intervals [MinDays, MaxDays). A nil MaxDays is
  open-ended. Rows should not overlap; if they do, the most severe
  matching tier wins. A value no row covers is a policy gap and yields
  UnmatchedTierError, never a silent "performing".

WRITTEN OFF:
  written_off is not a threshold tier. It is reached only by an explicit
  write-off, so it never appears as a row. WrittenOffRatePercent is the
  rate applied to whatever balance remains after write-off.

EXAMPLE:
  policy := ProvisioningPolicy{Rows: []PolicyRow{
      {Tier: TierPerforming, MinDays: 0, MaxDays: IntPtr(1), RatePercent: Money("1")},
      {Tier: TierWatch, MinDays: 1, MaxDays: IntPtr(31), RatePercent: Money("5")},
      ...
  }}
  row, err := policy.Match(45) // substandard

SEE ALSO:
  - factory/policy.go: JSON/YAML loading and presets
  - classification.go: consumer of the table
*/
package lending

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// POLICY TABLE
// =============================================================================

type PolicyRow struct {
	Tier        Tier
	MinDays     int
	MaxDays     *int // exclusive; nil = no upper bound
	RatePercent decimal.Decimal
}

// Contains reports whether days falls in [MinDays, MaxDays).
func (r PolicyRow) Contains(days int) bool {
	if days < r.MinDays {
		return false
	}
	return r.MaxDays == nil || days < *r.MaxDays
}

type ProvisioningPolicy struct {
	Name                  string
	Version               int
	Rows                  []PolicyRow
	WrittenOffRatePercent decimal.Decimal
}

func IntPtr(v int) *int { return &v }

// Match returns the most severe row covering days.
func (p ProvisioningPolicy) Match(days int) (PolicyRow, bool) {
	var (
		best  PolicyRow
		found bool
	)
	for _, row := range p.Rows {
		if !row.Contains(days) {
			continue
		}
		if !found || row.Tier.MoreSevere(best.Tier) {
			best, found = row, true
		}
	}
	return best, found
}

// RatePercent returns the provisioning rate for a tier.
func (p ProvisioningPolicy) RatePercent(tier Tier) (decimal.Decimal, bool) {
	if tier == TierWrittenOff {
		return p.WrittenOffRatePercent, true
	}
	for _, row := range p.Rows {
		if row.Tier == tier {
			return row.RatePercent, true
		}
	}
	return decimal.Zero, false
}

// Validate checks the table shape. Overlaps are tolerated (the stricter
// tier wins at match time); gaps are reported only at match time because
// a table may deliberately stop short of values it never expects.
func (p ProvisioningPolicy) Validate() error {
	if len(p.Rows) == 0 {
		return &PolicyError{Row: -1, Reason: "no rows"}
	}
	for i, row := range p.Rows {
		switch {
		case !row.Tier.Valid():
			return &PolicyError{Row: i, Reason: fmt.Sprintf("unknown tier %q", row.Tier)}
		case row.Tier == TierWrittenOff:
			return &PolicyError{Row: i, Reason: "written_off is reached by explicit write-off only"}
		case row.MinDays < 0:
			return &PolicyError{Row: i, Reason: "negative min days"}
		case row.MaxDays != nil && *row.MaxDays <= row.MinDays:
			return &PolicyError{Row: i, Reason: "empty interval"}
		case !validPercent(row.RatePercent):
			return &PolicyError{Row: i, Reason: "rate must be within 0-100"}
		}
	}
	if !validPercent(p.WrittenOffRatePercent) {
		return &PolicyError{Row: len(p.Rows), Reason: "written-off rate must be within 0-100"}
	}
	return nil
}

// Gaps lists day values in [0, upTo) that no row covers, collapsed into
// the first day of each uncovered run. Used by operators to spot holes.
func (p ProvisioningPolicy) Gaps(upTo int) []int {
	var gaps []int
	inGap := false
	for d := 0; d < upTo; d++ {
		_, ok := p.Match(d)
		if !ok && !inGap {
			gaps = append(gaps, d)
		}
		inGap = !ok
	}
	return gaps
}

func validPercent(d decimal.Decimal) bool {
	return !d.IsNegative() && !d.GreaterThan(hundred)
}
