// Package namematch compares a claimed identity name against noisy OCR text.
package namematch

import (
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xrash/smetrics"
	"golang.org/x/text/unicode/norm"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	// DefaultThreshold is used when the caller supplies none or an invalid one.
	DefaultThreshold = 0.80

	// FastPathScore is reported when the claimed tokens appear verbatim in the document.
	FastPathScore = 0.99

	longDocumentRunes = 80
	maxWindow         = 5
	minWindow         = 2
	maxCandidates     = 100

	jwBoostThreshold = 0.7
	jwPrefixSize     = 4
)

var honorifics = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "miss": {}, "shri": {}, "smt": {},
	"kumari": {}, "dr": {}, "prof": {}, "sir": {}, "madam": {},
}

// Match reports whether any of the claimed name or its aliases appears in documentText.
func Match(claimed string, aliases []string, documentText string, threshold float64) domain.NameMatchResult {
	if math.IsNaN(threshold) || threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}

	var names []string
	for _, n := range append([]string{claimed}, aliases...) {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return domain.NameMatchResult{Passed: true, Score: 0}
	}

	docTokens := tokenize(documentText)
	if len(docTokens) == 0 {
		slog.Debug("name match on empty document", "names", len(names))
		return domain.NameMatchResult{Passed: false, Score: 0}
	}

	// Fast path: claimed tokens in order, separated by at most 3 non-letters.
	docPlain := strings.Join(docTokens, " ")
	for _, name := range names {
		rx := tolerantPattern(normalizeTokens(tokenize(name)))
		if rx == nil {
			continue
		}
		if loc := rx.FindStringIndex(docPlain); loc != nil {
			fragment := strings.TrimSpace(docPlain[loc[0]:loc[1]])
			slog.Debug("name fast-path match",
				"matched_with", name,
				"fragment", fragment,
				"threshold", threshold,
			)
			matched := name
			return domain.NameMatchResult{
				Passed:          FastPathScore >= threshold,
				Score:           FastPathScore,
				MatchedWith:     &matched,
				MatchedFragment: fragment,
			}
		}
	}

	var docCandidates []string
	if utf8.RuneCountInString(documentText) > longDocumentRunes || strings.Contains(documentText, "\n") {
		docCandidates = Candidates(documentText)
	} else {
		docCandidates = []string{documentText}
	}

	var (
		bestScore    float64
		bestName     string
		bestFragment string
	)
	for _, name := range names {
		nameTokens := normalizeTokens(tokenize(name))
		nameKey := sortedKey(nameTokens)
		if nameKey == "" {
			continue
		}
		for _, cand := range docCandidates {
			candTokens := normalizeTokens(tokenize(cand))
			if !initialsCompatible(nameTokens, candTokens) {
				continue
			}
			candKey := sortedKey(candTokens)
			if candKey == "" {
				continue
			}
			if score := smetrics.JaroWinkler(nameKey, candKey, jwBoostThreshold, jwPrefixSize); score > bestScore {
				bestScore, bestName, bestFragment = score, name, cand
			}
		}
	}

	slog.Debug("name fuzzy match",
		"names", len(names),
		"candidates", len(docCandidates),
		"best_score", domain.RoundTo(bestScore, 4),
		"fragment", bestFragment,
		"threshold", threshold,
	)

	res := domain.NameMatchResult{
		Passed:          bestScore >= threshold,
		Score:           bestScore,
		MatchedFragment: bestFragment,
	}
	if bestName != "" {
		res.MatchedWith = &bestName
	}
	return res
}

// Candidates derives name-like fragments from long OCR text: every 2 to 5 token
// window of alphabetic tokens on each line, deduplicated by sorted normalized
// tokens, followed by the whole text collapsed onto one line.
func Candidates(text string) []string {
	var out []string
	seen := make(map[string]struct{})

	lines := strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' })
	for _, line := range lines {
		var words []string
		for _, tok := range tokenize(line) {
			if isAlphabetic(tok) {
				words = append(words, tok)
			}
		}
		for size := maxWindow; size >= minWindow; size-- {
			for i := 0; i+size <= len(words); i++ {
				win := words[i : i+size]
				key := sortedKey(normalizeTokens(win))
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				out = append(out, strings.Join(win, " "))
			}
		}
	}

	if collapsed := strings.Join(strings.Fields(stripPunct(norm.NFKC.String(text))), " "); collapsed != "" {
		if _, ok := seen[collapsed]; !ok {
			out = append(out, collapsed)
		}
	}

	if len(out) > maxCandidates {
		out = out[:maxCandidates]
	}
	return out
}

// tokenize lowercases, applies NFKC, turns punctuation and symbols into spaces
// and splits on whitespace.
func tokenize(s string) []string {
	return strings.Fields(stripPunct(norm.NFKC.String(strings.ToLower(s))))
}

func stripPunct(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, s)
}

// normalizeTokens drops honorifics and trailing periods.
func normalizeTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := honorifics[t]; ok {
			continue
		}
		if t = strings.TrimSuffix(t, "."); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func sortedKey(tokens []string) string {
	sorted := append([]string(nil), tokens...)
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}

// initialsCompatible requires every single-letter token on either side to be
// the first letter of some longer token on the other side.
func initialsCompatible(a, b []string) bool {
	return initialsCovered(a, b) && initialsCovered(b, a)
}

func initialsCovered(from, to []string) bool {
	for _, t := range from {
		if utf8.RuneCountInString(t) != 1 {
			continue
		}
		found := false
		for _, x := range to {
			if utf8.RuneCountInString(x) > 1 && strings.HasPrefix(x, t) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func tolerantPattern(tokens []string) *regexp.Regexp {
	var parts []string
	for _, t := range tokens {
		letters := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsMark(r) {
				return r
			}
			return -1
		}, t)
		if letters != "" {
			parts = append(parts, regexp.QuoteMeta(letters))
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}])` + strings.Join(parts, `[^\p{L}]{0,3}`) + `(?:$|[^\p{L}])`)
}

func isAlphabetic(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsMark(r) {
			return false
		}
	}
	return true
}
