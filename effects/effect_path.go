package effects

import "strings"

// EffectPath is an immutable, structurally-shared cons list of
// PathFragments, newest fragment first internally. It mirrors the
// reverse-path construction the compiler uses so that deriving a child path
// from a parent never copies the parent's history; every derivation just
// allocates one new cons cell pointing at the shared tail.
type EffectPath struct {
	node *pathNode
}

type pathNode struct {
	fragment PathFragment
	past     *pathNode
}

// RootPath returns the empty path: the contract's own root.
func RootPath() EffectPath {
	return EffectPath{node: &pathNode{fragment: RootFragment(), past: nil}}
}

// Push returns a new path with fragment appended as the newest segment.
// The receiver is left unmodified; EffectPath is always safe to share.
func (p EffectPath) Push(fragment PathFragment) EffectPath {
	return EffectPath{node: &pathNode{fragment: fragment, past: p.node}}
}

// IsRoot reports whether this path is exactly the root (no fragments pushed
// past the initial RootFragment).
func (p EffectPath) IsRoot() bool {
	return p.node == nil || (p.node.past == nil && p.node.fragment.Kind() == Root)
}

// Fragments returns every fragment from oldest to newest, i.e. in the order
// they would be read left to right in the path's string form.
func (p EffectPath) Fragments() []PathFragment {
	var newestFirst []PathFragment
	for n := p.node; n != nil; n = n.past {
		newestFirst = append(newestFirst, n.fragment)
	}
	out := make([]PathFragment, len(newestFirst))
	for i, f := range newestFirst {
		out[len(newestFirst)-1-i] = f
	}
	return out
}

// String renders the path by joining Fragments() with "/", oldest first.
func (p EffectPath) String() string {
	frags := p.Fragments()
	parts := make([]string, len(frags))
	for i, f := range frags {
		parts[i] = f.String()
	}
	return strings.Join(parts, "/")
}

// ParsePath is the inverse of String: fragments are parsed left to right and
// pushed in that order, so the leftmost fragment ends up oldest (deepest in
// the cons chain), matching Push's ordering.
func ParsePath(s string) (EffectPath, error) {
	if s == "" {
		return RootPath(), nil
	}
	path := EffectPath{}
	for i, part := range strings.Split(s, "/") {
		frag, err := ParseFragment(part)
		if err != nil {
			return EffectPath{}, err
		}
		if i == 0 && frag.Kind() == Root {
			path = RootPath()
			continue
		}
		path = path.Push(frag)
	}
	if path.node == nil {
		return RootPath(), nil
	}
	return path, nil
}

// MarshalText implements encoding.TextMarshaler so an EffectPath can be used
// directly as a JSON object key (Go requires TextMarshaler for non-string
// map keys) and serializes the same way the wire format expects.
func (p EffectPath) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *EffectPath) UnmarshalText(text []byte) error {
	parsed, err := ParsePath(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Equal compares two paths fragment-by-fragment. EffectPath is not directly
// comparable with == because two equivalent paths may be built from
// distinct cons chains.
func (p EffectPath) Equal(other EffectPath) bool {
	a, b := p.Fragments(), other.Fragments()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
