package pkg

// MergeVars merges scope fragments left-to-right, lowest to highest
// precedence. A later fragment's key wins over an earlier one. Nested maps
// are merged key by key; sequences are replaced wholesale. The inputs are
// never mutated.
func MergeVars(fragments ...map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{})
	for _, fragment := range fragments {
		mergeInto(merged, fragment)
	}
	return merged
}

func mergeInto(dst, src map[string]interface{}) {
	for key, value := range src {
		srcMap, srcIsMap := asStringMap(value)
		if srcIsMap {
			if existing, ok := asStringMap(dst[key]); ok {
				sub := copyStringMap(existing)
				mergeInto(sub, srcMap)
				dst[key] = sub
				continue
			}
			dst[key] = copyStringMap(srcMap)
			continue
		}
		dst[key] = value
	}
}

// asStringMap normalizes the two map shapes yaml.v3 can produce into
// map[string]interface{}.
func asStringMap(value interface{}) (map[string]interface{}, bool) {
	switch m := value.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = v
		}
		return out, true
	default:
		return nil, false
	}
}

func copyStringMap(src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(src))
	for k, v := range src {
		if sub, ok := asStringMap(v); ok {
			out[k] = copyStringMap(sub)
			continue
		}
		out[k] = v
	}
	return out
}
