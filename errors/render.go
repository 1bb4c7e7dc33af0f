package errors

import (
	"fmt"
	"sort"
	"strings"
)

// Render formats an error for terminal display: the kind-tagged headline,
// one context line per detail, and a suggestion when one applies.
func Render(err error) string {
	if err == nil {
		return ""
	}

	var ee *ExecError
	if !As(err, &ee) {
		return err.Error()
	}

	var b strings.Builder
	b.WriteString(ee.Error())

	keys := make([]string, 0, len(ee.Details))
	for k := range ee.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n  %s: %v", k, ee.Details[k])
	}

	if hint := Suggestion(ee); hint != "" {
		b.WriteString("\n  hint: " + hint)
	}
	return b.String()
}
