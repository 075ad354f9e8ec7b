package params

import (
	"fmt"
	"regexp"
	"strings"
)

// Split breaks text on the descriptor's delimiter. Tokens are trimmed of
// whitespace, stripped of StripPattern matches, and dropped when empty.
func Split(text string, d Descriptor) ([]string, error) {
	if d.Delimiter == "" {
		return nil, fmt.Errorf("parameter %q has no delimiter", d.Name)
	}
	return d.cleanTokens(strings.Split(text, d.Delimiter))
}

// Join is the inverse of Split for non-empty tokens that contain neither the
// delimiter nor surrounding whitespace.
func Join(values []string, delimiter string) string {
	return strings.Join(values, delimiter)
}

func (d Descriptor) cleanTokens(tokens []string) ([]string, error) {
	strip, err := d.stripRegexp()
	if err != nil {
		return nil, err
	}

	result := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if strip != nil {
			tok = strings.TrimSpace(strip.ReplaceAllString(tok, ""))
		}
		if tok == "" {
			continue
		}
		result = append(result, tok)
	}
	return result, nil
}

func (d Descriptor) stripRegexp() (*regexp.Regexp, error) {
	if d.strip != nil || d.StripPattern == "" {
		return d.strip, nil
	}
	re, err := regexp.Compile(d.StripPattern)
	if err != nil {
		return nil, fmt.Errorf("compiling strip pattern: %w", err)
	}
	return re, nil
}
