package bkp

import (
	"fmt"
	"strings"

	"bkp-go/internal/model"
)

// ConfigConflictError reports two tracking directives for the same path that
// disagree. Conflicts are detected when a ruleset is built, before any walk
// uses it.
type ConfigConflictError struct {
	Path string
	A, B model.Status
}

func (e *ConfigConflictError) Error() string {
	return fmt.Sprintf("conflicting directives for %q: %s vs %s", e.Path, e.A, e.B)
}

// DeviceUnreachableError reports that a secondary device could not be
// connected after retries.
type DeviceUnreachableError struct {
	Device string
	Err    error
}

func (e *DeviceUnreachableError) Error() string {
	return fmt.Sprintf("device %q unreachable: %v", e.Device, e.Err)
}

func (e *DeviceUnreachableError) Unwrap() error { return e.Err }

// PartialTransferError reports a backup or restore run that moved some files
// but not all of them. For backup runs the index is never advanced when this
// error is returned.
type PartialTransferError struct {
	Project string
	Device  string
	Failed  []string
	Err     error
}

func (e *PartialTransferError) Error() string {
	n := len(e.Failed)
	sample := e.Failed
	if n > 3 {
		sample = sample[:3]
	}
	return fmt.Sprintf("partial transfer for project %q on device %q: %d file(s) failed (%s): %v",
		e.Project, e.Device, n, strings.Join(sample, ", "), e.Err)
}

func (e *PartialTransferError) Unwrap() error { return e.Err }

// ComplianceUnsatisfiableError reports that a project's requirement class
// cannot be met with the currently registered devices.
type ComplianceUnsatisfiableError struct {
	Project string
	Class   string
}

func (e *ComplianceUnsatisfiableError) Error() string {
	return fmt.Sprintf("requirement class %q for project %q cannot be satisfied with the registered devices", e.Class, e.Project)
}
