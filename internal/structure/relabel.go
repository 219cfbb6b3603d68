package structure

import (
	"fmt"
	"strconv"
)

// suffixAlphabet yields up to 36 distinct labels per chemical symbol.
// Lowercase letters are excluded to avoid misleading kind names.
const suffixAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// RelabelSpec describes, per perturbed site, the type assignment reported by
// the external program after a run.
type RelabelSpec struct {
	Index   int
	Kind    string
	Symbol  string
	Type    int
	NewType int
	Spin    int
}

// NeedsRelabel reports whether any site was assigned a new type.
func NeedsRelabel(specs []RelabelSpec) bool {
	for _, s := range specs {
		if s.Type != s.NewType {
			return true
		}
	}
	return false
}

// RelabelKinds returns a clone of the structure whose perturbed sites carry
// fresh kind names, one per distinct (new type, spin) combination, assigned
// deterministically in first-occurrence order. The magnetization map, when
// given, is migrated to the new kind names: entries for the old perturbed
// kinds are dropped and re-added under the replacement labels.
//
// The suffix generation is done here rather than taken from the program's
// type indices, because those contain gaps in the sequence.
func RelabelKinds(s *Structure, specs []RelabelSpec, magnetization map[string]float64) (*Structure, map[string]float64, error) {
	if len(specs) > len(s.Sites) {
		return nil, nil, fmt.Errorf("relabel: %d site specs for %d sites", len(specs), len(s.Sites))
	}

	var newMagnetization map[string]float64
	if magnetization != nil {
		newMagnetization = make(map[string]float64, len(magnetization))
		for k, v := range magnetization {
			newMagnetization[k] = v
		}
		for _, spec := range specs {
			delete(newMagnetization, spec.Kind)
		}
	}

	relabeled := s.Clone()
	posByIndex := make(map[int]int, len(s.Sites))
	for pos, site := range s.Sites {
		posByIndex[site.Index] = pos
	}

	typeToKind := map[string]string{}
	symbolCounter := map[string]int{}

	for _, spec := range specs {
		pos, ok := posByIndex[spec.Index]
		if !ok {
			return nil, nil, fmt.Errorf("relabel: spec references unknown site index %d", spec.Index)
		}

		symbol := spec.Symbol
		if symbol == "" {
			symbol = s.Sites[pos].Symbol
		}

		// hp.x does not distinguish new types according to spin, so fold
		// the spin sign into the lookup key.
		spinType := strconv.Itoa(spec.NewType * spec.Spin)
		kindName, ok := typeToKind[spinType]
		if !ok {
			counter := symbolCounter[symbol]
			if counter >= len(suffixAlphabet) {
				return nil, nil, fmt.Errorf("relabel: exhausted kind labels for symbol %q", symbol)
			}
			kindName = symbol + string(suffixAlphabet[counter])
			typeToKind[spinType] = kindName
			symbolCounter[symbol] = counter + 1
		}

		if newMagnetization != nil {
			if moment, ok := magnetization[spec.Kind]; ok {
				newMagnetization[kindName] = moment
			}
		}

		relabeled.Sites[pos].Kind = kindName
	}

	// Parameters reported against old kind names follow the sites they
	// reference.
	kindByIndex := map[int]string{}
	for _, site := range relabeled.Sites {
		kindByIndex[site.Index] = site.Kind
	}
	for i := range relabeled.Parameters {
		p := &relabeled.Parameters[i]
		if kind, ok := kindByIndex[p.I]; ok {
			p.KindI = kind
		}
		if kind, ok := kindByIndex[p.J]; ok {
			p.KindJ = kind
		}
	}

	return relabeled, newMagnetization, nil
}
