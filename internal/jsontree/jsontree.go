// Package jsontree walks decoded JSON values (maps, slices, scalars).
package jsontree

// Strip returns a deep copy of v with every object key in keys removed at any depth.
// The input is not modified.
func Strip(v any, keys ...string) any {
	if len(keys) == 0 {
		return Clone(v)
	}
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}
	return strip(v, drop)
}

func strip(v any, drop map[string]struct{}) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if _, ok := drop[k]; ok {
				continue
			}
			out[k] = strip(child, drop)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = strip(child, drop)
		}
		return out
	default:
		return val
	}
}

// Clone returns a deep copy of a decoded JSON value.
func Clone(v any) any {
	return strip(v, nil)
}

// StripMap is Strip for a top-level object.
func StripMap(m map[string]any, keys ...string) map[string]any {
	if m == nil {
		return nil
	}
	out, _ := Strip(m, keys...).(map[string]any)
	return out
}
