// Package protocol ships the built-in input-card presets. A protocol is a
// named set of base parameters for the ground-state and perturbation runs;
// user-supplied parameters are layered on top of the selected preset.
package protocol

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/vk/hubflow/internal/model"
)

//go:embed protocols.yaml
var protocolsYAML []byte

// Protocol is one named preset.
type Protocol struct {
	Description         string                    `yaml:"description"`
	MaxWallclockSeconds int                       `yaml:"max_wallclock_seconds"`
	SCF                 map[string]map[string]any `yaml:"scf"`
	HP                  map[string]map[string]any `yaml:"hp"`
}

type protocolFile struct {
	Default   string              `yaml:"default"`
	Protocols map[string]Protocol `yaml:"protocols"`
}

func parse() (*protocolFile, error) {
	var f protocolFile
	if err := yaml.Unmarshal(protocolsYAML, &f); err != nil {
		return nil, fmt.Errorf("protocol: corrupt embedded preset table: %w", err)
	}
	return &f, nil
}

// Names returns the available preset names, sorted.
func Names() []string {
	f, err := parse()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(f.Protocols))
	for name := range f.Protocols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load returns the preset with the given name; the empty string selects the
// default preset.
func Load(name string) (*Protocol, error) {
	f, err := parse()
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = f.Default
	}
	p, ok := f.Protocols[name]
	if !ok {
		return nil, fmt.Errorf("protocol: unknown preset %q (available: %v)", name, Names())
	}
	return &p, nil
}

// SCFInputs merges the user's ground-state parameters over the preset's.
func (p *Protocol) SCFInputs(user model.Parameters) model.Parameters {
	return merge(p.SCF, user)
}

// HPInputs merges the user's perturbation parameters over the preset's.
func (p *Protocol) HPInputs(user model.Parameters) model.Parameters {
	return merge(p.HP, user)
}

// merge layers user parameters over a preset card, key by key. The preset is
// never mutated.
func merge(preset map[string]map[string]any, user model.Parameters) model.Parameters {
	out := model.Parameters{}
	for namespace, card := range preset {
		dst := out.Namespace(namespace)
		for key, value := range card {
			dst[key] = value
		}
	}
	for namespace, card := range user {
		dst := out.Namespace(namespace)
		for key, value := range card {
			dst[key] = value
		}
	}
	return out
}
