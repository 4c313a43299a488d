package domain

import "strings"

// NormalizeContent trims leading and trailing whitespace and collapses
// doubled spaces in a single left-to-right pass. The collapse is deliberately
// non-recursive: each occurrence of two spaces loses exactly one space, so
// "a   b" becomes "a  b", not "a b". Clients relying on spacing wider than
// one space keep most of it.
func NormalizeContent(content string) string {
	return strings.ReplaceAll(strings.TrimSpace(content), "  ", " ")
}
