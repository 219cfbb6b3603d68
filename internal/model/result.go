package model

import "github.com/vk/hubflow/internal/structure"

// SiteRef is one entry of the probe's ordered site enumeration.
type SiteRef struct {
	Index int    `json:"index"`
	Kind  string `json:"kind"`
}

// RelabelSite reports, for one perturbed site, the type the external program
// assigned before and after the run. A NewType differing from Type means the
// program distinguished previously identical sites.
type RelabelSite struct {
	Index   int    `json:"index"`
	Kind    string `json:"kind"`
	Type    int    `json:"type"`
	NewType int    `json:"new_type"`
	Spin    int    `json:"spin"`
}

// Result is the terminal record of one unit job as reported by the execution
// backend. ExitStatus zero means success; any other value is the program's
// own failure classification.
type Result struct {
	ExitStatus int

	// Remote is the working storage of the run; Retrieved the parsed
	// output archive handed to downstream collection jobs.
	Remote    StorageRef
	Retrieved StorageRef

	// Probe enumeration outputs (set on initialization-only runs).
	HubbardSites []SiteRef
	NumQPoints   int

	// Ground-state record fields (set on SCF runs).
	NumberOfBands      int
	NumberOfElectrons  float64
	FermiEnergy        float64
	BandGap            float64
	TotalMagnetization float64

	// Hubbard run outputs.
	HubbardStructure *structure.Structure
	Sites            []RelabelSite

	// Relaxed structure, when the run moved ions.
	OutputStructure *structure.Structure
}

// OK reports whether the job reached its terminal state successfully.
func (r *Result) OK() bool { return r.ExitStatus == 0 }
