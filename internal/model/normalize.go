package model

import (
	"strings"

	"golang.org/x/text/cases"
)

// NormalizeEntityKey canonicalizes cache and dedup keys so that
// "Acme.com" and "acme.com " collide correctly.
func NormalizeEntityKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// FoldCompanyName produces a case-folded comparison key for company names,
// used for dedup when no domain is available. A Caser is stateful, so one
// is created per call.
func FoldCompanyName(name string) string {
	return cases.Fold().String(strings.Join(strings.Fields(name), " "))
}
