package rules

import (
	"fmt"
	"strings"
)

// RuleName derives the deterministic name under which a unit's filter
// rule is created and re-found. The host firewall has no concept of this
// tool's ownership beyond this naming convention, so the name must be
// stable across runs for a given (description, port, protocol).
func RuleName(base, description string, port uint16, proto Protocol) string {
	return fmt.Sprintf("%s: %s %d/%s", base, description, port, strings.ToUpper(string(proto)))
}

// NamePrefix is the prefix shared by every rule this tool manages for
// the given base name. Any externally-created rule sharing the prefix
// is at risk of being treated as owned.
func NamePrefix(base string) string {
	return base + ": "
}
