package framework

import (
	"regexp"
	"strings"
)

// MatchPattern reports whether value matches a wildcard pattern where '*'
// matches any run of characters and '?' matches exactly one. An empty pattern
// matches everything.
func MatchPattern(pattern, value string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if !strings.ContainsAny(pattern, "*?") {
		return pattern == value
	}
	regex, err := regexp.Compile(wildcardToRegex(pattern))
	if err != nil {
		return false
	}
	return regex.MatchString(value)
}

func wildcardToRegex(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, ch := range pattern {
		switch ch {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	b.WriteString("$")
	return b.String()
}
