package rmd

import (
	"fmt"
	"strconv"
	"strings"
)

var quoteReplacer = strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\t", `\t`)

// Quote renders s as a single-quoted R string literal.
func Quote(s string) string {
	return "'" + quoteReplacer.Replace(s) + "'"
}

// Literal renders a resolved parameter value as R source.
func Literal(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return Quote(t)
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case []string:
		return Vector(t)
	default:
		return Quote(fmt.Sprint(t))
	}
}

// Vector renders values as an R character vector.
func Vector(values []string) string {
	if len(values) == 0 {
		return "character(0)"
	}
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = Quote(v)
	}
	return "c(" + strings.Join(quoted, ", ") + ")"
}

// StripTrailingSeparator returns a copy of lines whose last line no longer
// ends with sep. Lines built as "X," for every entry close cleanly this way
// before the literal's closing bracket.
func StripTrailingSeparator(lines []string, sep string) []string {
	out := make([]string, len(lines))
	copy(out, lines)
	if len(out) == 0 || sep == "" {
		return out
	}
	last := strings.TrimRight(out[len(out)-1], " \t")
	out[len(out)-1] = strings.TrimSuffix(last, sep)
	return out
}

// NamedList renders an R list literal with one "'key' = value," line per
// entry, indented, and the trailing separator removed.
func NamedList(keys []string, values []string) string {
	if len(keys) == 0 {
		return "list()"
	}
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = "\t" + Quote(k) + " = " + values[i] + ","
	}
	lines = StripTrailingSeparator(lines, ",")
	return "list(\n" + strings.Join(lines, "\n") + "\n)"
}
