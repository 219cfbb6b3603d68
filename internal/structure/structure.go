// Package structure holds the minimal structural snapshot the orchestrator
// needs: the list of sites with their kind labels and the pairwise Hubbard
// parameters attached to them. Full crystallographic manipulation is the
// business of the external toolchain; only relabeling after a run that
// distinguished new site types happens here.
package structure

import "fmt"

// Site is one atomic site of the structure. Kind is the label the external
// program addresses the site by; Symbol the underlying chemical species.
type Site struct {
	Index  int
	Kind   string
	Symbol string
}

// Parameter is one pairwise Hubbard entry between sites I and J. An entry
// whose endpoints coincide (same index and same kind) is an onsite value;
// everything else is intersite.
type Parameter struct {
	I           int
	KindI       string
	J           int
	KindJ       string
	Value       float64
	Translation [3]int
	Manifold    string
}

// Onsite reports whether both endpoints of the entry are the same site.
func (p Parameter) Onsite() bool {
	return p.I == p.J && p.KindI == p.KindJ
}

// Key identifies an entry by its structural endpoints, independent of its
// position in the parameter list. Convergence comparisons match entries by
// this key so that relabeling cannot silently shift the pairing.
func (p Parameter) Key() string {
	return fmt.Sprintf("%d:%s-%d:%s", p.I, p.KindI, p.J, p.KindJ)
}

// Structure is a snapshot of the sites and their current Hubbard parameters.
type Structure struct {
	Sites      []Site
	Parameters []Parameter
}

// Clone returns an independent copy of the structure.
func (s *Structure) Clone() *Structure {
	out := &Structure{
		Sites:      append([]Site(nil), s.Sites...),
		Parameters: append([]Parameter(nil), s.Parameters...),
	}
	return out
}

// Kinds returns the distinct kind labels in site order of first occurrence.
func (s *Structure) Kinds() []string {
	seen := map[string]bool{}
	var kinds []string
	for _, site := range s.Sites {
		if !seen[site.Kind] {
			seen[site.Kind] = true
			kinds = append(kinds, site.Kind)
		}
	}
	return kinds
}

// Separate splits a parameter list into its onsite and intersite subsets,
// preserving order within each subset.
func Separate(params []Parameter) (onsites, intersites []Parameter) {
	for _, p := range params {
		if p.Onsite() {
			onsites = append(onsites, p)
		} else {
			intersites = append(intersites, p)
		}
	}
	return onsites, intersites
}
