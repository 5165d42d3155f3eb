package sheet

import "strings"

// CleanCell removes common spreadsheet artifacts from a cell value:
//   - surrounding whitespace
//   - Excel's text-forcing formula wrapper (="00123")
//   - one matched pair of surrounding quotes
//
// Anything else is kept as written, so inch marks (13") and a leading '='
// survive.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if len(s) >= 3 && strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) {
		return strings.TrimSpace(s[2 : len(s)-1])
	}
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
