package bkp

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// ProjectSummary describes one project found on a secondary device.
type ProjectSummary struct {
	Project      string
	LastBackup   time.Time
	Files        int
	Bytes        int64
	ManifestHash string

	// Registered is true when the project is also in the local registry.
	Registered bool
}

// ExploreDevice reports what a device holds: every project with data on the
// device together with its latest backup state. Summaries are delivered one
// at a time in name order; returning an error from fn stops the walk.
func (s *Service) ExploreDevice(ctx context.Context, deviceName string, fn func(ProjectSummary) error) error {
	device, err := s.registry.Device(deviceName)
	if err != nil {
		return fmt.Errorf("looking up device: %w", err)
	}
	if device == nil {
		return fmt.Errorf("device is not registered: %s", deviceName)
	}

	conn, err := s.connect(ctx, deviceName)
	if err != nil {
		return err
	}
	defer s.release(conn, deviceName)

	s.mergeDeviceLog(ctx, conn, deviceName)

	projects, err := conn.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("listing device projects: %w", err)
	}
	sort.Strings(projects)

	for _, p := range projects {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		summary := ProjectSummary{Project: p}
		if m, entry, merr := s.lastManifest(ctx, conn, deviceName, p); merr != nil {
			s.logger.Warn("reading project manifest", "device", deviceName,
				"project", p, "error", merr)
		} else if entry != nil {
			summary.LastBackup = entry.Timestamp
			summary.ManifestHash = entry.Fingerprint
			summary.Files = m.Len()
			summary.Bytes = int64(m.TotalSize())
		}
		if reg, rerr := s.registry.Project(p); rerr == nil && reg != nil {
			summary.Registered = true
		}
		if err := fn(summary); err != nil {
			return err
		}
	}
	return nil
}
