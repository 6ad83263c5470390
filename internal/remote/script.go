package remote

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)\}\}`)

// forbidden substrings in parameter values. Values are interpolated into
// script text, so anything that could break out of the surrounding script
// context is rejected rather than escaped.
var forbiddenParamSequences = []string{"\n", "\r", "`", `"`, "'", "$(", "${"}

// RenderScript substitutes {{name}} placeholders in script with values from
// params. Every placeholder must resolve; parameter values are validated
// before substitution. Substitution is a single pass, so placeholder-like
// text inside a value is never expanded again.
func RenderScript(script string, params map[string]string) (string, error) {
	for name, value := range params {
		if err := validateParam(name, value); err != nil {
			return "", err
		}
	}

	var missing []string
	seen := make(map[string]bool)

	rendered := placeholderPattern.ReplaceAllStringFunc(script, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if value, ok := params[name]; ok {
			return value
		}
		if !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("unresolved script placeholders: %s", strings.Join(missing, ", "))
	}

	return rendered, nil
}

func validateParam(name, value string) error {
	for _, seq := range forbiddenParamSequences {
		if strings.Contains(value, seq) {
			return fmt.Errorf("parameter %q contains forbidden sequence %q", name, seq)
		}
	}
	return nil
}
