package pii

// RedactStructured walks an arbitrary nested value (maps, slices,
// strings) and sanitizes every string leaf. Non-string scalars pass
// through untouched. Used by the audit logger on metadata payloads
// before anything is buffered for storage.
func RedactStructured(v any) any {
	switch val := v.(type) {
	case string:
		return Sanitize(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = RedactStructured(item)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, item := range val {
			out[k] = Sanitize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = RedactStructured(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = Sanitize(item)
		}
		return out
	default:
		return v
	}
}
