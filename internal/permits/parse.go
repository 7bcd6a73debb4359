// Package permits turns free-form permit cells ("Türkiye DG Approval", "Egypt, Sudan OVF & LDG")
// into canonical (country, permit type) occurrences.
package permits

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/joseph-ayodele/permit-intake/constants"
	"github.com/joseph-ayodele/permit-intake/internal/common"
)

// Occurrence is one permit mentioned in a cell. Country is empty when the cell named none.
type Occurrence struct {
	Country string
	Type    constants.PermitType
}

// UnmappableError reports a segment that looks like a permit request but matches no known token.
type UnmappableError struct {
	Fragment string
	Segment  string
	Reason   string
}

func (e *UnmappableError) Error() string {
	return fmt.Sprintf("unmappable permit %q in %q: %s", e.Segment, e.Fragment, e.Reason)
}

func (e *UnmappableError) Unwrap() error { return common.ErrInvalidShape }

// Words that mark a segment as a permit request even when no token matches.
var markerWords = map[string]struct{}{
	"permit": {}, "permits": {}, "approval": {}, "approvals": {},
	"clearance": {}, "clearances": {}, "airspace": {},
	"authorization": {}, "authorisation": {},
}

// Trailing words dropped before token matching.
var trailingQualifiers = map[string]struct{}{
	"approval": {}, "approvals": {}, "required": {}, "permit": {},
	"permits": {}, "request": {}, "requested": {},
}

type segment struct {
	raw       string
	country   string
	permit    constants.PermitType
	hasPermit bool
	unmatched bool
}

// isFiller reports dash and dot runs such as "-" or "..." that carry no meaning.
func isFiller(w string) bool {
	return strings.Trim(w, "-–—.,;*•'\"") == ""
}

func segmentWords(seg string) []string {
	seg = strings.NewReplacer("(", " ", ")", " ", "[", " ", "]", " ", ":", " ").Replace(seg)
	var words []string
	for _, w := range strings.Fields(seg) {
		if !isFiller(w) {
			words = append(words, w)
		}
	}
	return words
}

func foldWord(w string) string {
	return constants.FoldToken(strings.TrimFunc(w, func(r rune) bool {
		return unicode.IsPunct(r) && r != '-'
	}))
}

func matchKey(words []string) string {
	folded := make([]string, 0, len(words))
	for _, w := range words {
		if f := foldWord(w); f != "" {
			folded = append(folded, f)
		}
	}
	return strings.Join(folded, " ")
}

func stripQualifiers(words []string) []string {
	for len(words) >= 2 {
		first, second := foldWord(words[0]), foldWord(words[1])
		if (first == "approval" && (second == "for" || second == "of")) || (first == "request" && second == "for") {
			words = words[2:]
			continue
		}
		break
	}
	for len(words) > 0 {
		last := foldWord(words[len(words)-1])
		if _, ok := trailingQualifiers[last]; ok {
			words = words[:len(words)-1]
			continue
		}
		if last == "for" && len(words) >= 2 && foldWord(words[len(words)-2]) == "approval" {
			words = words[:len(words)-2]
			continue
		}
		break
	}
	return words
}

func parseSegment(raw string) segment {
	words := segmentWords(raw)
	marked := false
	for _, w := range words {
		if _, ok := markerWords[foldWord(w)]; ok {
			marked = true
			break
		}
	}
	if s, ok := permitForCountry(raw, words); ok {
		return s
	}
	words = stripQualifiers(words)

	// the longest suffix that is a known token wins; what precedes it is the country
	for i := range words {
		if p, ok := constants.ParsePermitType(matchKey(words[i:])); ok {
			return segment{raw: raw, country: strings.Join(words[:i], " "), permit: p, hasPermit: true}
		}
	}
	if marked || len(words) == 0 {
		return segment{raw: raw, unmatched: marked}
	}
	return segment{raw: raw, country: strings.Join(words, " ")}
}

// permitForCountry reads "<token> for <country>", as in "Overflight approval for Jordan".
func permitForCountry(raw string, words []string) (segment, bool) {
	for i := 1; i < len(words)-1; i++ {
		if foldWord(words[i]) != "for" {
			continue
		}
		head := stripQualifiers(words[:i])
		if len(head) == 0 {
			continue
		}
		p, ok := constants.ParsePermitType(matchKey(head))
		if !ok {
			continue
		}
		country := stripQualifiers(words[i+1:])
		if len(country) == 0 {
			continue
		}
		return segment{raw: raw, country: strings.Join(country, " "), permit: p, hasPermit: true}, true
	}
	return segment{}, false
}

// Parse maps one permit cell to its occurrences.
//
// Country-only segments accumulate into a group; token segments attach to it.
// A group emits countries × tokens in mention order. Unmapped segments are
// reported as *UnmappableError joined into the returned error while the
// remaining occurrences are still returned.
func Parse(fragment string) ([]Occurrence, error) {
	var (
		out       []Occurrence
		errs      []error
		countries []string
		types     []constants.PermitType
	)

	flush := func() {
		defer func() { countries, types = nil, nil }()
		if len(types) == 0 {
			if len(countries) > 0 {
				errs = append(errs, &UnmappableError{
					Fragment: fragment,
					Segment:  strings.Join(countries, ", "),
					Reason:   "no permit type named",
				})
			}
			return
		}
		cs := countries
		if len(cs) == 0 {
			cs = []string{""}
		}
		for _, c := range cs {
			for _, t := range types {
				out = append(out, Occurrence{Country: c, Type: t})
			}
		}
	}

	for _, raw := range splitSegments(fragment) {
		s := parseSegment(raw)
		switch {
		case s.unmatched:
			errs = append(errs, &UnmappableError{Fragment: fragment, Segment: s.raw, Reason: "unknown permit token"})
		case s.hasPermit && s.country != "":
			if len(types) > 0 {
				flush()
			}
			countries = append(countries, s.country)
			types = append(types, s.permit)
		case s.hasPermit:
			types = append(types, s.permit)
		case s.country != "":
			if len(types) > 0 {
				flush()
			}
			countries = append(countries, s.country)
		}
	}
	flush()

	return out, errors.Join(errs...)
}

// ParseLines parses several fragments and concatenates their occurrences in order.
func ParseLines(lines ...string) ([]Occurrence, error) {
	var (
		out  []Occurrence
		errs []error
	)
	for _, l := range lines {
		occ, err := Parse(l)
		out = append(out, occ...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

// Unmappable flattens err into the unmappable segments it carries.
func Unmappable(err error) []*UnmappableError {
	if err == nil {
		return nil
	}
	var u *UnmappableError
	if errors.As(err, &u) {
		if _, joined := err.(interface{ Unwrap() []error }); !joined {
			return []*UnmappableError{u}
		}
	}
	var out []*UnmappableError
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range j.Unwrap() {
			out = append(out, Unmappable(e)...)
		}
	}
	return out
}
