package permits

import (
	"regexp"
	"slices"
	"strings"
)

// Country names that contain a delimiter. Splitting never breaks inside them.
var protectedCountries = []string{
	"Antigua and Barbuda",
	"Bosnia and Herzegovina",
	"Heard Island and McDonald Islands",
	"Saint Kitts and Nevis",
	"St Kitts and Nevis",
	"Saint Pierre and Miquelon",
	"Saint Vincent and the Grenadines",
	"St Vincent and the Grenadines",
	"Sao Tome and Principe",
	"São Tomé and Príncipe",
	"Svalbard and Jan Mayen",
	"Trinidad and Tobago",
	"Turks and Caicos Islands",
	"Turks and Caicos",
	"Wallis and Futuna",
	"Bolivia, Plurinational State of",
	"Bonaire, Sint Eustatius and Saba",
	"Congo, Democratic Republic of the",
	"Congo, The Democratic Republic of the",
	"Iran, Islamic Republic of",
	"Korea, Democratic People's Republic of",
	"Korea, Republic of",
	"Micronesia, Federated States of",
	"Moldova, Republic of",
	"Palestine, State of",
	"Saint Helena, Ascension and Tristan da Cunha",
	"Taiwan, Province of China",
	"Tanzania, United Republic of",
	"Venezuela, Bolivarian Republic of",
	"Virgin Islands, British",
	"Virgin Islands, U.S.",
}

const (
	andPlaceholder   = "\x1f"
	ampPlaceholder   = "\x1e"
	commaPlaceholder = "\x1d"
)

var (
	protectedRe = buildProtectedRe(protectedCountries)
	connectorRe = regexp.MustCompile(`(?i)\s+(and|&)\s+`)
	delimiterRe = regexp.MustCompile(`(?i)[,;/|&+\n]|\s+and\s+`)
)

func buildProtectedRe(names []string) *regexp.Regexp {
	alts := make([]string, 0, len(names))
	for _, n := range names {
		parts := strings.Split(n, " and ")
		for i, p := range parts {
			words := strings.Fields(p)
			for j, w := range words {
				words[j] = regexp.QuoteMeta(w)
			}
			parts[i] = strings.ReplaceAll(strings.Join(words, `\s+`), `,\s+`, `\s*,\s*`)
		}
		alts = append(alts, strings.Join(parts, `\s+(?:and|&)\s+`))
	}
	// longest names first so "Turks and Caicos Islands" wins over "Turks and Caicos"
	return regexp.MustCompile(`(?i)(?:` + strings.Join(sortByLenDesc(alts), "|") + `)`)
}

func sortByLenDesc(in []string) []string {
	out := slices.Clone(in)
	slices.SortStableFunc(out, func(a, b string) int { return len(b) - len(a) })
	return out
}

func protect(s string) string {
	return protectedRe.ReplaceAllStringFunc(s, func(m string) string {
		m = connectorRe.ReplaceAllStringFunc(m, func(c string) string {
			if strings.Contains(c, "&") {
				return " " + ampPlaceholder + " "
			}
			return " " + andPlaceholder + " "
		})
		return strings.ReplaceAll(m, ",", commaPlaceholder)
	})
}

func unprotect(s string) string {
	s = strings.ReplaceAll(s, andPlaceholder, "and")
	s = strings.ReplaceAll(s, ampPlaceholder, "&")
	return strings.ReplaceAll(s, commaPlaceholder, ",")
}

// splitSegments splits a fragment on the permit delimiters (, ; / | & + newline "and")
// without breaking protected country names. Empty segments are dropped.
func splitSegments(fragment string) []string {
	fragment = strings.ReplaceAll(fragment, "\r\n", "\n")
	fragment = strings.ReplaceAll(fragment, "\r", "\n")
	parts := delimiterRe.Split(protect(fragment), -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(unprotect(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SplitCountries splits a country cell such as "Egypt / Sudan" into its names.
func SplitCountries(cell string) []string {
	return splitSegments(cell)
}
