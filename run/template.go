package run

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/weavel-fastllm/fastllm/errors"
)

var fieldPattern = regexp.MustCompile(`\{(\w+)\}`)

// Render substitutes {field} placeholders in a prompt template. A referenced
// field missing from inputs is a hard failure, never a silent blank.
func Render(template string, inputs map[string]any) (string, error) {
	var missing []string
	out := fieldPattern.ReplaceAllStringFunc(template, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := inputs[key]
		if !ok {
			missing = append(missing, key)
			return m
		}
		return fmt.Sprint(v)
	})
	if len(missing) > 0 {
		return "", errors.Newf("missing input fields: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
