package model

import (
	"fmt"
	"time"
)

// RequirementClass is a named backup policy: how many copies of a project
// must exist, across how many distinct physical locations, and the minimum
// security level a hosting device must meet. Values are immutable once
// built; projects reference a class by name.
type RequirementClass struct {
	Name             string
	TargetCopies     uint32 // distinct copies wanted
	TargetLocations  uint32 // distinct location labels wanted; never exceeds TargetCopies
	MinSecurityLevel SecurityLevel
}

// NewRequirementClass validates and builds a RequirementClass.
// Both targets must be at least 1 and locations can never exceed copies.
func NewRequirementClass(name string, copies, locations uint32, min SecurityLevel) (RequirementClass, error) {
	if name == "" {
		return RequirementClass{}, fmt.Errorf("requirement class name must not be empty")
	}
	if copies < 1 {
		return RequirementClass{}, fmt.Errorf("requirement class %q: target copies must be at least 1", name)
	}
	if locations < 1 {
		return RequirementClass{}, fmt.Errorf("requirement class %q: target locations must be at least 1", name)
	}
	if locations > copies {
		return RequirementClass{}, fmt.Errorf("requirement class %q: target locations (%d) exceeds target copies (%d)", name, locations, copies)
	}
	return RequirementClass{
		Name:             name,
		TargetCopies:     copies,
		TargetLocations:  locations,
		MinSecurityLevel: min,
	}, nil
}

// DefaultRequirementClass is the class assigned to newly tracked projects
// when none is named: three copies over two locations on devices that at
// least require authorization.
func DefaultRequirementClass() RequirementClass {
	return RequirementClass{
		Name:             "standard",
		TargetCopies:     3,
		TargetLocations:  2,
		MinSecurityLevel: NetworkUntrustedRestricted,
	}
}

// DeviceInfo describes a registered secondary device. The registry owns
// these records; project copies refer to them by Name only.
// Connection timestamps are advisory liveness signals, not authoritative
// state: a device may have been attached to another host since.
type DeviceInfo struct {
	Name              string // unique id within the registry
	Location          string // physical location label (home, work, aws, ...)
	SecurityLevel     SecurityLevel
	DeviceType        string    // adapter type name (localdir, s3, ...)
	LastConnection    time.Time // zero = never connected
	LastDisconnection time.Time
}

// Status is the three-way tracking classification of a path or project.
// The declaration order is the restrictiveness order used by inheritance:
// a child's effective status may hold or raise its parent's, never lower
// it, so nothing beneath an ignored subtree can resolve to tracked.
type Status int

const (
	StatusUnspecified Status = iota // no directive found; default leaf state
	StatusTracked                   // participates in backup and restore
	StatusIgnored                   // explicit, user-declared exclusion
)

func (s Status) String() string {
	switch s {
	case StatusUnspecified:
		return "unspecified"
	case StatusTracked:
		return "tracked"
	case StatusIgnored:
		return "ignored"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus converts a config string into a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "unspecified":
		return StatusUnspecified, nil
	case "tracked":
		return StatusTracked, nil
	case "ignored":
		return StatusIgnored, nil
	default:
		return 0, fmt.Errorf("unknown tracking status: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler for TOML round-trips.
func (s Status) MarshalText() ([]byte, error) {
	switch s {
	case StatusUnspecified, StatusTracked, StatusIgnored:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("invalid tracking status: %d", int(s))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	status, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = status
	return nil
}

// Project is a named subtree of the primary device treated as one backup
// unit. Root is relative to whatever the primary device calls home.
type Project struct {
	Name     string
	Root     string
	Tracking Tracking
}

// Tracking describes how a project participates in backups. Status selects
// the variant: Class, LastUpdate and Copies are meaningful for
// StatusTracked only.
type Tracking struct {
	Status     Status
	Class      string        // requirement class name
	LastUpdate time.Time     // newest mtime observed in the project tree; zero = unknown
	Copies     []ProjectCopy // one slot per secondary device holding the project
}

// TrackedSince builds the Tracking value for a freshly tracked project.
func TrackedSince(class string, lastUpdate time.Time) Tracking {
	return Tracking{
		Status:     StatusTracked,
		Class:      class,
		LastUpdate: lastUpdate,
	}
}

// ProjectCopy is one (project, device) compliance slot. Existence does not
// imply currency: compare LastBackup against the project's LastUpdate.
// DeviceName is a weak reference into the device registry.
type ProjectCopy struct {
	DeviceName string
	LastBackup time.Time // zero = a copy slot exists but no backup completed
}

// Current reports whether the copy is up to date with respect to the
// project's last observed update. A copy that never completed is never
// current; an unknown project update time counts any completed backup as
// current, since nothing newer is known.
func (c ProjectCopy) Current(lastUpdate time.Time) bool {
	if c.LastBackup.IsZero() {
		return false
	}
	if lastUpdate.IsZero() {
		return true
	}
	return !c.LastBackup.Before(lastUpdate)
}
