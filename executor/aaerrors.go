package executor

import "strings"

// ClassifyAAError maps a free-form revert/failure reason string to the
// ERC-4337 AA-code prefix it carries, if any. The Bundling Loop's failure
// branch logs this code next to each rejected op (the dropped event itself
// carries the raw reason string), and the Transaction Status Resolver's AA25
// branch uses IsAA25; the fuller table below covers the other standard
// AA-prefixed codes too.
var aaCodes = []string{
	"AA10", "AA13", "AA14", "AA15", "AA20", "AA21", "AA22", "AA23", "AA24",
	"AA25", "AA30", "AA31", "AA32", "AA33", "AA34", "AA40", "AA41", "AA50",
	"AA51", "AA90", "AA91", "AA92", "AA93", "AA94", "AA95",
}

// ClassifyAAError returns the AA-code prefix found in reason, or "" if none
// of the known codes appear.
func ClassifyAAError(reason string) string {
	for _, code := range aaCodes {
		if strings.Contains(reason, code) {
			return code
		}
	}
	return ""
}

// IsAA95 reports whether reason carries the "out of gas during execution"
// code.
func IsAA95(reason string) bool {
	return strings.Contains(reason, "AA95")
}

// IsAA25 reports whether reason carries the "invalid account nonce /
// frontrun" code.
func IsAA25(reason string) bool {
	return strings.Contains(reason, "AA25")
}
