package constants

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// PermitType is the canonical permit label stored in the "Permit Type" column.
type PermitType string

const (
	OverflightPermit       PermitType = "Overflight Permit"
	LandingPermit          PermitType = "Landing Permit"
	TechnicalStopPermit    PermitType = "Technical Stop Permit"
	SpecialFlightPermit    PermitType = "Special Flight Permit"
	DangerousGoodsPermit   PermitType = "Dangerous Goods Permit"
	TrafficRightsPermit    PermitType = "Traffic Rights Permit"
	TechnicalLandingPermit PermitType = "Technical Landing Permit"
)

var allPermitTypes = []PermitType{
	OverflightPermit,
	LandingPermit,
	TechnicalStopPermit,
	SpecialFlightPermit,
	DangerousGoodsPermit,
	TrafficRightsPermit,
	TechnicalLandingPermit,
}

// permitSynonyms maps folded raw tokens to their canonical type.
// Canonical labels are added in init so canonical input maps to itself.
var permitSynonyms = map[string]PermitType{
	"ovf":            OverflightPermit,
	"ov":             OverflightPermit,
	"overflight":     OverflightPermit,
	"over flight":    OverflightPermit,
	"overfly":        OverflightPermit,
	"fir":            OverflightPermit,
	"fir overflight": OverflightPermit,
	"fir ovf":        OverflightPermit,

	"ldg":     LandingPermit,
	"lndg":    LandingPermit,
	"landing": LandingPermit,
	"arrival": LandingPermit,

	"tech stop":      TechnicalStopPermit,
	"technical stop": TechnicalStopPermit,
	"techstop":       TechnicalStopPermit,
	"fuel stop":      TechnicalStopPermit,
	"tech":           TechnicalStopPermit,

	"special":        SpecialFlightPermit,
	"special flight": SpecialFlightPermit,
	"non-standard":   SpecialFlightPermit,
	"non standard":   SpecialFlightPermit,
	"nonstandard":    SpecialFlightPermit,

	"dg":              DangerousGoodsPermit,
	"dangerous goods": DangerousGoodsPermit,

	"tfc":            TrafficRightsPermit,
	"traffic rights": TrafficRightsPermit,

	"tlp":               TechnicalLandingPermit,
	"technical landing": TechnicalLandingPermit,
}

func init() {
	for _, p := range allPermitTypes {
		permitSynonyms[FoldToken(string(p))] = p
	}
}

// PermitTypes returns the closed set in declaration order.
func PermitTypes() []PermitType {
	out := make([]PermitType, len(allPermitTypes))
	copy(out, allPermitTypes)
	return out
}

// PermitTypeStrings is PermitTypes as plain strings, for prompts and schemas.
func PermitTypeStrings() []string {
	result := make([]string, len(allPermitTypes))
	for i, p := range allPermitTypes {
		result[i] = string(p)
	}
	return result
}

// PermitSynonyms returns the sorted raw tokens that map to p.
func PermitSynonyms(p PermitType) []string {
	var out []string
	for k, v := range permitSynonyms {
		if v == p && k != FoldToken(string(p)) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// ParsePermitType looks up a single already-trimmed token. There is no fallback:
// an unknown token reports false.
func ParsePermitType(token string) (PermitType, bool) {
	if strings.TrimSpace(token) == "" {
		return "", false
	}
	p, ok := permitSynonyms[FoldToken(token)]
	return p, ok
}

// IsPermitType reports whether s is exactly one of the canonical labels.
func IsPermitType(s string) bool {
	for _, p := range allPermitTypes {
		if string(p) == s {
			return true
		}
	}
	return false
}

// FoldToken returns the lookup key for s: NFC, Unicode case-folded, single-spaced.
func FoldToken(s string) string {
	s = norm.NFC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
