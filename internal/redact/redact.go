// Package redact strips sensitive fields from response payloads.
package redact

// Marker replaces redacted values in response payloads.
const Marker = "[REDACTED]"

// sensitiveKeys are masked at every nesting depth regardless of caller role.
var sensitiveKeys = map[string]struct{}{
	"body":         {},
	"content":      {},
	"emails":       {},
	"phones":       {},
	"customFields": {},
}

// Redact walks JSON-shaped data (maps, slices, primitives) and replaces the
// value of every sensitive key with the redaction marker. Arrays are mapped
// element-wise; primitives pass through unchanged.
func Redact(data any) any {
	switch value := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for key, entry := range value {
			if _, sensitive := sensitiveKeys[key]; sensitive {
				out[key] = Marker
				continue
			}
			out[key] = Redact(entry)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, entry := range value {
			out[i] = Redact(entry)
		}
		return out
	default:
		return data
	}
}
