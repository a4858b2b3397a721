package util

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const defaultSnippetRunes = 420

// SanitizeText drops NUL and other control characters except newline, tab
// and carriage return. PDF extraction produces them and Postgres text
// columns reject NUL.
func SanitizeText(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// DisplaySnippet flattens s to one line of at most maxRunes runes.
func DisplaySnippet(s string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = defaultSnippetRunes
	}
	s = strings.Join(strings.Fields(splitGluedWords(SanitizeText(s))), " ")
	s = strings.Map(func(r rune) rune {
		if !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, s)
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:maxRunes])) + "..."
}

// ContextSnippet picks the sentences of a prior contribution that share the
// most terms with the candidate text. With no shared terms it falls back to
// the opening of the prior text.
func ContextSnippet(prior, candidate string, maxRunes int) string {
	prior = DisplaySnippet(prior, 4000)
	terms := keyTerms(candidate)
	sentences := splitSentences(prior)
	if len(terms) == 0 || len(sentences) < 2 {
		return DisplaySnippet(prior, maxRunes)
	}

	type ranked struct {
		pos, hits int
	}
	rs := make([]ranked, len(sentences))
	for i, s := range sentences {
		low := strings.ToLower(s)
		rs[i].pos = i
		for _, t := range terms {
			if strings.Contains(low, t) {
				rs[i].hits++
			}
		}
	}
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].hits > rs[j].hits })
	if rs[0].hits == 0 {
		return DisplaySnippet(prior, maxRunes)
	}
	picked := []int{rs[0].pos}
	if rs[1].hits > 0 {
		picked = append(picked, rs[1].pos)
		// Keep the original reading order.
		sort.Ints(picked)
	}
	parts := make([]string, len(picked))
	for i, p := range picked {
		parts[i] = sentences[p]
	}
	return DisplaySnippet(strings.Join(parts, " "), maxRunes)
}

func splitSentences(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			if x := strings.TrimSpace(s[start : i+1]); x != "" {
				out = append(out, x)
			}
			start = i + 1
		}
	}
	if x := strings.TrimSpace(s[start:]); x != "" {
		out = append(out, x)
	}
	return out
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true, "were": true,
	"that": true, "this": true, "these": true, "those": true, "with": true, "from": true,
	"into": true, "over": true, "what": true, "how": true, "why": true, "which": true,
	"have": true, "has": true, "not": true, "but": true, "its": true, "our": true,
}

// keyTerms returns distinct lower-case words of three or more letters,
// capped so long candidates stay cheap to match.
func keyTerms(s string) []string {
	const maxTerms = 64
	seen := map[string]bool{}
	var out []string
	for _, f := range strings.Fields(strings.ToLower(DisplaySnippet(s, 2000))) {
		f = strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) })
		if utf8.RuneCountInString(f) < 3 || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
		if len(out) == maxTerms {
			break
		}
	}
	return out
}

// splitGluedWords inserts a space at lower-to-upper and letter/digit
// transitions, which PDF text extraction often loses.
func splitGluedWords(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for i, r := range s {
		if i > 0 && !unicode.IsSpace(prev) && glued(prev, r) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

func glued(a, b rune) bool {
	return (unicode.IsLower(a) && unicode.IsUpper(b)) ||
		(unicode.IsLetter(a) && unicode.IsDigit(b)) ||
		(unicode.IsDigit(a) && unicode.IsLetter(b))
}
