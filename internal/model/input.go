package model

// StorageRef is an opaque reference to the working storage of a finished
// calculation on the execution backend (a remote folder, in scheduler terms).
type StorageRef string

// Job kinds understood by the execution backend.
const (
	KindSCF     = "pw" // ground-state DFT run
	KindHubbard = "hp" // linear-response Hubbard run
)

// Input is the narrowed snapshot submitted as one unit job. WorkItems receive
// a Clone and must treat it as read only; the coordinator owns the original.
type Input struct {
	// Label names the submission in logs and in the submission journal
	// (e.g. "initialization", "atom_3", "qpoint_2", "compute_hp").
	Label string
	// Kind selects the external program the backend invokes.
	Kind string

	Parameters Parameters
	// Settings carries out-of-card submission settings, such as the
	// command line ("cmdline" -> []string).
	Settings map[string]any

	// ParentSCF points at the ground-state run the calculation perturbs.
	ParentSCF StorageRef
	// ParentHP maps item labels to partial-result storage for the final
	// collection run. Populated only by the fan-out collector.
	ParentHP map[string]StorageRef

	// MaxWallclockSeconds is enforced by the backend, not the coordinator.
	MaxWallclockSeconds int

	// OnlyInitialization requests the enumeration-only probe variant that
	// reports the perturbed sites without computing anything.
	OnlyInitialization bool

	Relax bool // request a geometry relaxation instead of a plain SCF
}

// Clone deep-copies the input so a mutation for one work item can never leak
// into a sibling's snapshot.
func (in *Input) Clone() *Input {
	out := *in
	out.Parameters = in.Parameters.Clone()
	if in.Settings != nil {
		out.Settings = make(map[string]any, len(in.Settings))
		for k, v := range in.Settings {
			if s, ok := v.([]string); ok {
				out.Settings[k] = append([]string(nil), s...)
				continue
			}
			out.Settings[k] = v
		}
	}
	if in.ParentHP != nil {
		out.ParentHP = make(map[string]StorageRef, len(in.ParentHP))
		for k, v := range in.ParentHP {
			out.ParentHP[k] = v
		}
	}
	return &out
}

// Cmdline returns the extra command-line arguments from the settings table.
func (in *Input) Cmdline() []string {
	if in.Settings == nil {
		return nil
	}
	switch v := in.Settings["cmdline"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// SetCmdline stores the extra command-line arguments, creating the settings
// table when needed.
func (in *Input) SetCmdline(args []string) {
	if in.Settings == nil {
		in.Settings = map[string]any{}
	}
	in.Settings["cmdline"] = args
}
