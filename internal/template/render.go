package template

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CurrentYearKey is always available to templates.
const CurrentYearKey = "currentYear"

const (
	openMarker  = "{{"
	closeMarker = "}}"
)

// Render replaces every {{key}} marker whose key is present in vars. Markers
// without a value are left as they are. Substituted values are not re-scanned,
// so the output does not depend on map iteration order.
func Render(body string, vars map[string]any) string {
	return RenderAt(body, vars, time.Now())
}

// RenderAt is Render with an explicit clock for the injected currentYear.
func RenderAt(body string, vars map[string]any, now time.Time) string {
	values := make(map[string]string, len(vars)+1)
	values[CurrentYearKey] = strconv.Itoa(now.Year())
	for key, value := range vars {
		values[key] = Stringify(value)
	}

	var out strings.Builder
	out.Grow(len(body))

	rest := body
	for {
		start := strings.Index(rest, openMarker)
		if start < 0 {
			out.WriteString(rest)
			break
		}
		end := strings.Index(rest[start+len(openMarker):], closeMarker)
		if end < 0 {
			out.WriteString(rest)
			break
		}
		end += start + len(openMarker)

		key := rest[start+len(openMarker) : end]
		value, ok := values[key]
		if !ok {
			// advance one brace so "{{{name}}}" and "{{ {{name}}" still expand.
			out.WriteString(rest[:start+1])
			rest = rest[start+1:]
			continue
		}

		out.WriteString(rest[:start])
		out.WriteString(value)
		rest = rest[end+len(closeMarker):]
	}

	return out.String()
}

// Stringify coerces a variable value to its rendered form.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}
