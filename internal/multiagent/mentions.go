package multiagent

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// EOFMarker is the reply an agent gives when it has nothing to add to a
// group turn.
const EOFMarker = "[eof]"

// StripEOF removes every occurrence of the silence marker, case-insensitively,
// and trims the result. The bool reports whether a marker was found.
func StripEOF(text string) (string, bool) {
	var (
		b     strings.Builder
		found bool
	)
	n := len(EOFMarker)
	for i := 0; i < len(text); {
		if i+n <= len(text) && strings.EqualFold(text[i:i+n], EOFMarker) {
			found = true
			i += n
			continue
		}
		b.WriteByte(text[i])
		i++
	}
	if !found {
		return text, false
	}
	return strings.TrimSpace(b.String()), true
}

// Mentions returns the distinct peers addressed as @Name in text, in order of
// first appearance. Matching is case-insensitive on NFC-normalised text and
// word bounded, so "@bob" matches Bob but "foo@bob.com" and "@bobby" do not.
// When several peer names match at one position the longest wins. The agent
// with ID self is never returned.
func Mentions(text, self string, peers []models.Agent) []models.Agent {
	if !strings.Contains(text, "@") || len(peers) == 0 {
		return nil
	}
	fold := cases.Fold()
	haystack := fold.String(norm.NFC.String(text))

	type candidate struct {
		agent models.Agent
		name  string
	}
	candidates := make([]candidate, 0, len(peers))
	for _, p := range peers {
		if p.ID == self {
			continue
		}
		name := p.Name
		if strings.TrimSpace(name) == "" {
			name = p.ID
		}
		if name == "" {
			continue
		}
		candidates = append(candidates, candidate{agent: p, name: fold.String(norm.NFC.String(name))})
	}

	var out []models.Agent
	seen := map[string]bool{}
	for i := 0; i < len(haystack); i++ {
		if haystack[i] != '@' || !boundaryBefore(haystack, i) {
			continue
		}
		rest := haystack[i+1:]
		best := -1
		for ci, c := range candidates {
			if !strings.HasPrefix(rest, c.name) || !boundaryAfter(rest, len(c.name)) {
				continue
			}
			if best < 0 || len(c.name) > len(candidates[best].name) {
				best = ci
			}
		}
		if best < 0 {
			continue
		}
		match := candidates[best].agent
		if !seen[match.ID] {
			seen[match.ID] = true
			out = append(out, match)
		}
	}
	return out
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
