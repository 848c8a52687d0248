// internal/filter/fieldpath.go
package filter

/*
 * Operand resolution against captured event values.
 *
 * An Event carries three namespaces: payload fields, channel context fields
 * and application contexts (provider -> type -> value). The first path
 * segment selects a field in the namespace; later segments descend into
 * nested maps by key and into arrays by index. Anything missing, mistyped
 * or out of range resolves as not found.
 */

// Event is the input of a filter evaluation. Values use the plain forms
// produced by fieldvalue.Native.
type Event struct {
	Payload map[string]any
	Context map[string]any
	App     map[string]map[string]any
}

// Resolve looks up an operand in ev.
func Resolve(operand Operand, ev Event) (any, bool) {
	var root map[string]any
	switch operand.Scope {
	case ScopePayload:
		root = ev.Payload
	case ScopeContext:
		root = ev.Context
	case ScopeApp:
		root = ev.App[operand.Provider]
	}
	if root == nil || len(operand.Path) == 0 {
		return nil, false
	}
	return resolveRecursive(operand.Path, root)
}

func resolveRecursive(path []Segment, current any) (any, bool) {
	if len(path) == 0 {
		return current, current != nil
	}

	seg := path[0]
	switch v := current.(type) {
	case map[string]any:
		if seg.IsIndex {
			return nil, false
		}
		val, ok := v[seg.Key]
		if !ok {
			return nil, false
		}
		return resolveRecursive(path[1:], val)
	case []any:
		if !seg.IsIndex || seg.Index < 0 || seg.Index >= len(v) {
			return nil, false
		}
		return resolveRecursive(path[1:], v[seg.Index])
	default:
		return nil, false
	}
}
