package runtime

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*([\w.-]+)\s*\}\}`)

// Render replaces {{name}} placeholders with values from vars.
// Dotted names walk nested maps. Unknown names render as empty strings.
func Render(text string, vars map[string]any) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := lookup(vars, name)
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
}

func lookup(vars map[string]any, name string) (any, bool) {
	if v, ok := vars[name]; ok {
		return v, true
	}
	head, rest, found := strings.Cut(name, ".")
	if !found {
		return nil, false
	}
	nested, ok := vars[head].(map[string]any)
	if !ok {
		return nil, false
	}
	return lookup(nested, rest)
}

// renderArgs interpolates string arguments of an integration call.
func renderArgs(args map[string]any, vars map[string]any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			out[k] = Render(s, vars)
			continue
		}
		out[k] = v
	}
	return out
}
