package caching

import (
	"sort"
	"strings"

	"github.com/lexcodex/codeengine/framework"
)

// Tokenize splits a query on whitespace and drops empty tokens.
func Tokenize(query string) []string {
	return strings.Fields(query)
}

// Matches reports whether every token occurs in the lowercased haystack
// file+signature. Each token is located by its last occurrence and the
// positions must not decrease from one token to the next.
func Matches(file, signature string, tokens []string) bool {
	haystack := strings.ToLower(file) + strings.ToLower(signature)
	matchPos := -1
	for _, token := range tokens {
		pos := strings.LastIndex(haystack, strings.ToLower(token))
		if pos == -1 {
			return false
		}
		if pos < matchPos {
			return false
		}
		matchPos = pos
	}
	return true
}

// Name ranks used by SearchSorter. Lower sorts first.
const (
	rankExactName = iota
	rankNamePrefix
	rankNameContains
	rankOther
)

// SearchSorter orders matched references. The order is ascending by:
// name rank against the query, signature length, file, signature, line,
// column, and finally insertion order.
type SearchSorter struct {
	Tokens []string
}

// NameRank scores name against the tokens. The last token is treated as the
// symbol being looked for; earlier tokens usually narrow the path.
func (s SearchSorter) NameRank(name string) int {
	if len(s.Tokens) == 0 {
		return rankOther
	}
	lowerName := strings.ToLower(name)
	last := strings.ToLower(s.Tokens[len(s.Tokens)-1])
	switch {
	case lowerName == last:
		return rankExactName
	case strings.HasPrefix(lowerName, last):
		return rankNamePrefix
	}
	for _, token := range s.Tokens {
		if strings.Contains(lowerName, strings.ToLower(token)) {
			return rankNameContains
		}
	}
	return rankOther
}

// Less compares two references under the sorter's policy.
func (s SearchSorter) Less(a, b framework.CodeReference) bool {
	if ra, rb := s.NameRank(a.Name), s.NameRank(b.Name); ra != rb {
		return ra < rb
	}
	if len(a.Signature) != len(b.Signature) {
		return len(a.Signature) < len(b.Signature)
	}
	if a.File != b.File {
		return a.File < b.File
	}
	if a.Signature != b.Signature {
		return a.Signature < b.Signature
	}
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	return a.Column < b.Column
}

// Sort orders refs in place; ties keep their input order.
func (s SearchSorter) Sort(refs []framework.CodeReference) {
	sort.SliceStable(refs, func(i, j int) bool {
		return s.Less(refs[i], refs[j])
	})
}
