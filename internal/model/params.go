package model

// Parameters is the structured input card for one external calculation. The
// first level is the namelist name (INPUTHP, CONTROL, SYSTEM, ELECTRONS) and
// the second level maps parameter keys to their values.
type Parameters map[string]map[string]any

// Namespace returns the named sub-table, creating it when absent so callers
// can set keys without an existence dance.
func (p Parameters) Namespace(name string) map[string]any {
	ns, ok := p[name]
	if !ok {
		ns = map[string]any{}
		p[name] = ns
	}
	return ns
}

// Clone returns a deep copy of the parameter table. Values are copied
// shallowly; by convention they are scalars or small immutable slices.
func (p Parameters) Clone() Parameters {
	out := make(Parameters, len(p))
	for name, ns := range p {
		cp := make(map[string]any, len(ns))
		for k, v := range ns {
			cp[k] = v
		}
		out[name] = cp
	}
	return out
}

// Float reads a numeric parameter, tolerating int and float storage. The
// second return reports whether the key was present and numeric.
func (p Parameters) Float(namespace, key string) (float64, bool) {
	ns, ok := p[namespace]
	if !ok {
		return 0, false
	}
	switch v := ns[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
