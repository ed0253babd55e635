package action

// MergeParams implements the precedence rule of spec §4.1 item 3: path
// parameters are applied first and may not be overridden by later
// sources; later sources (query, then body, or whatever order the
// caller passes) supplement earlier ones; when the target already holds
// a value and a later source supplies the same key, the values are
// combined into a list. This happens for every duplicate key; the
// action's declared field types are not consulted here.
//
// sources are applied in the order given, except that path is always
// applied first and is immutable once set.
func MergeParams(path map[string]string, sources ...map[string]any) map[string]any {
	out := make(map[string]any, len(path))
	locked := make(map[string]bool, len(path))

	for k, v := range path {
		out[k] = v
		locked[k] = true
	}

	for _, src := range sources {
		for k, v := range src {
			if locked[k] {
				continue
			}
			if existing, ok := out[k]; ok {
				out[k] = appendValue(existing, v)
			} else {
				out[k] = v
			}
		}
	}

	return out
}

func appendValue(existing, next any) any {
	switch e := existing.(type) {
	case []any:
		return append(e, next)
	default:
		return []any{e, next}
	}
}
