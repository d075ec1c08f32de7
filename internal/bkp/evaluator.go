package bkp

import (
	"sort"
	"time"

	"bkp-go/internal/model"
)

// Verdict is the compliance outcome for one project against its requirement
// class.
type Verdict int

const (
	// VerdictUnsatisfied means no current copy on any qualifying device.
	VerdictUnsatisfied Verdict = iota
	// VerdictPartiallySatisfied means at least one current copy on a
	// qualifying device, but the copy or location target is missed.
	VerdictPartiallySatisfied
	// VerdictSatisfied means both targets are met by current copies on
	// qualifying devices.
	VerdictSatisfied
)

func (v Verdict) String() string {
	switch v {
	case VerdictSatisfied:
		return "satisfied"
	case VerdictPartiallySatisfied:
		return "partially_satisfied"
	default:
		return "unsatisfied"
	}
}

// CopyState describes one recorded copy of a project during evaluation.
type CopyState struct {
	Device     string
	Location   string
	LastBackup time.Time
	// Current is true when the copy is at least as new as the project's
	// last observed modification.
	Current bool
	// Qualifying is true when the hosting device meets the class's minimum
	// security level. Only current qualifying copies count toward targets.
	Qualifying bool
}

// Evaluation is the result of checking one project against its requirement
// class.
type Evaluation struct {
	Class   model.RequirementClass
	Verdict Verdict

	// Copies and Locations count current copies on qualifying devices and
	// the distinct locations they cover.
	Copies    uint32
	Locations uint32

	// CopyStates lists every recorded copy, current or not.
	CopyStates []CopyState

	// Candidates lists devices eligible to host a new or refreshed copy,
	// best first: devices adding an uncovered location sort ahead, then
	// higher security level, then name.
	Candidates []model.DeviceInfo
}

// Evaluate checks a project's recorded copies against its requirement class
// given the registered devices. It is a pure function of its inputs; device
// reachability is not consulted.
func Evaluate(class model.RequirementClass, project model.Project, devices []model.DeviceInfo) Evaluation {
	byName := make(map[string]model.DeviceInfo, len(devices))
	for _, d := range devices {
		byName[d.Name] = d
	}

	ev := Evaluation{Class: class}
	locations := make(map[string]bool)
	currentOn := make(map[string]bool)

	for _, c := range project.Tracking.Copies {
		dev, known := byName[c.DeviceName]
		st := CopyState{
			Device:     c.DeviceName,
			LastBackup: c.LastBackup,
			Current:    c.Current(project.Tracking.LastUpdate),
		}
		if known {
			st.Location = dev.Location
			st.Qualifying = dev.SecurityLevel.Meets(class.MinSecurityLevel)
		}
		ev.CopyStates = append(ev.CopyStates, st)
		if known && st.Current && st.Qualifying {
			ev.Copies++
			currentOn[c.DeviceName] = true
			if !locations[dev.Location] {
				locations[dev.Location] = true
				ev.Locations++
			}
		}
	}

	switch {
	case ev.Copies >= class.TargetCopies && ev.Locations >= class.TargetLocations:
		ev.Verdict = VerdictSatisfied
	case ev.Copies > 0:
		ev.Verdict = VerdictPartiallySatisfied
	default:
		ev.Verdict = VerdictUnsatisfied
	}

	for _, d := range devices {
		if !d.SecurityLevel.Meets(class.MinSecurityLevel) {
			continue
		}
		if currentOn[d.Name] {
			continue
		}
		ev.Candidates = append(ev.Candidates, d)
	}
	sort.SliceStable(ev.Candidates, func(i, j int) bool {
		a, b := ev.Candidates[i], ev.Candidates[j]
		aNew, bNew := !locations[a.Location], !locations[b.Location]
		if aNew != bNew {
			return aNew
		}
		if a.SecurityLevel != b.SecurityLevel {
			return a.SecurityLevel > b.SecurityLevel
		}
		return a.Name < b.Name
	})

	return ev
}

// Unsatisfiable reports whether the class targets can never be met with the
// given devices, regardless of backup runs: fewer qualifying devices than
// target copies, or fewer distinct qualifying locations than target
// locations.
func Unsatisfiable(class model.RequirementClass, devices []model.DeviceInfo) bool {
	var qualifying uint32
	locations := make(map[string]bool)
	for _, d := range devices {
		if !d.SecurityLevel.Meets(class.MinSecurityLevel) {
			continue
		}
		qualifying++
		locations[d.Location] = true
	}
	return qualifying < class.TargetCopies || uint32(len(locations)) < class.TargetLocations
}
