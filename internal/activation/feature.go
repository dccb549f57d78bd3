// Package activation tracks which protocol features are live at a given
// block height and selects the arithmetic variant historical blocks use.
package activation

import (
	"fmt"
	"sort"
	"strconv"
)

// Feature identifies a protocol feature that activates at a block height.
type Feature uint16

const (
	FeatureVesting           Feature = 1
	FeatureKYC               Feature = 2
	FeatureDExSell           Feature = 3
	FeatureDExBuy            Feature = 4
	FeatureMetaDEx           Feature = 5
	FeatureFixed             Feature = 8
	FeatureManaged           Feature = 9
	FeatureContractDEx       Feature = 12
	FeatureContractDExOracle Feature = 13
	FeatureDExMath           Feature = 100
	FeatureFees              Feature = 101
)

var featureNames = map[Feature]string{
	FeatureVesting:           "vesting",
	FeatureKYC:               "kyc",
	FeatureDExSell:           "dex_sell",
	FeatureDExBuy:            "dex_buy",
	FeatureMetaDEx:           "metadex",
	FeatureFixed:             "fixed",
	FeatureManaged:           "managed",
	FeatureContractDEx:       "contractdex",
	FeatureContractDExOracle: "contractdex_oracles",
	FeatureDExMath:           "dex_math",
	FeatureFees:              "fees",
}

func (f Feature) String() string {
	if name, ok := featureNames[f]; ok {
		return name
	}
	return "feature(" + strconv.Itoa(int(f)) + ")"
}

// Known reports whether f is a feature this build understands.
func (f Feature) Known() bool {
	_, ok := featureNames[f]
	return ok
}

// ParseFeature accepts a feature name or its numeric id.
func ParseFeature(s string) (Feature, error) {
	for f, name := range featureNames {
		if name == s {
			return f, nil
		}
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err == nil && Feature(n).Known() {
		return Feature(n), nil
	}
	return 0, fmt.Errorf("unknown feature %q", s)
}

// AllFeatures returns every known feature ascending.
func AllFeatures() []Feature {
	out := make([]Feature, 0, len(featureNames))
	for f := range featureNames {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Variant selects between historical and current arithmetic.
type Variant uint8

const (
	Legacy Variant = iota
	Current
)

func (v Variant) String() string {
	if v == Legacy {
		return "legacy"
	}
	return "current"
}

// Schedule maps features to their activation heights.
// Not thread-safe: owned by the single writer of the core engine.
type Schedule struct {
	initial map[Feature]int64
	heights map[Feature]int64
}

// NewSchedule builds a schedule from configured activation heights.
func NewSchedule(initial map[Feature]int64) *Schedule {
	s := &Schedule{initial: make(map[Feature]int64, len(initial))}
	for f, h := range initial {
		s.initial[f] = h
	}
	s.Reset()
	return s
}

// Reset drops runtime activations and returns to the configured heights.
func (s *Schedule) Reset() {
	s.heights = make(map[Feature]int64, len(s.initial))
	for f, h := range s.initial {
		s.heights[f] = h
	}
}

// Activate schedules f at height, replacing any earlier schedule.
func (s *Schedule) Activate(f Feature, height int64) {
	s.heights[f] = height
}

// Deactivate removes f from the schedule.
func (s *Schedule) Deactivate(f Feature) {
	delete(s.heights, f)
}

// IsActive reports whether f is live at height.
func (s *Schedule) IsActive(f Feature, height int64) bool {
	h, ok := s.heights[f]
	return ok && height >= h
}

// ActivationHeight returns the scheduled height of f.
func (s *Schedule) ActivationHeight(f Feature) (int64, bool) {
	h, ok := s.heights[f]
	return h, ok
}

// DExMath returns the DEx arithmetic variant in force at height.
func (s *Schedule) DExMath(height int64) Variant {
	if s.IsActive(FeatureDExMath, height) {
		return Current
	}
	return Legacy
}
