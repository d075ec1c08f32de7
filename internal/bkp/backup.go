package bkp

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"bkp-go/internal/index"
	"bkp-go/internal/model"
)

// maxParallelRuns bounds how many devices a multi-device backup touches at
// once.
const maxParallelRuns = 4

// BackupReport summarizes one backup run against one device.
type BackupReport struct {
	Project      string
	Device       string
	Uploaded     int
	Removed      int
	Bytes        int64
	ManifestHash string

	// UpToDate is true when the device already held the current state and
	// nothing moved.
	UpToDate bool

	// LogPushed is false when the updated index log could not be written
	// back to the device. The next connection catches the device up.
	LogPushed bool
}

// Backup brings one device up to date for one project: changed and new
// files are uploaded, removals are recorded as tombstones, and one Uploaded
// entry with the new manifest hash is appended last. The index advances only
// after the entire batch has landed on the device; a failed or cancelled run
// leaves the previous state current and a later run converges.
func (s *Service) Backup(ctx context.Context, projectName, deviceName string) (*BackupReport, error) {
	project, err := s.registry.Project(projectName)
	if err != nil {
		return nil, fmt.Errorf("looking up project: %w", err)
	}
	if project == nil {
		return nil, fmt.Errorf("project is not registered: %s", projectName)
	}
	if project.Tracking.Status != model.StatusTracked {
		return nil, fmt.Errorf("project is not tracked: %s", projectName)
	}
	device, err := s.registry.Device(deviceName)
	if err != nil {
		return nil, fmt.Errorf("looking up device: %w", err)
	}
	if device == nil {
		return nil, fmt.Errorf("device is not registered: %s", deviceName)
	}
	origin, err := s.registry.HostID()
	if err != nil {
		return nil, fmt.Errorf("reading host id: %w", err)
	}

	run := s.idgen.NewID()
	unlock := s.lockRun(projectName, deviceName)
	defer unlock()

	conn, err := s.connect(ctx, deviceName)
	if err != nil {
		return nil, err
	}
	defer s.release(conn, deviceName)

	s.mergeDeviceLog(ctx, conn, deviceName)

	current, lastUpdate, err := s.scanProject(ctx, *project)
	if err != nil {
		return nil, err
	}
	old, lastEntry, err := s.lastManifest(ctx, conn, deviceName, projectName)
	if err != nil {
		return nil, err
	}

	report := &BackupReport{
		Project:      projectName,
		Device:       deviceName,
		ManifestHash: current.Hash(),
		LogPushed:    true,
	}

	// An empty diff with no recorded backup still runs the batch below:
	// the first backup of an empty tree must land an Uploaded entry, or the
	// copy would never count toward the project's class.
	diff := index.DiffManifests(old, current)
	if diff.Empty() && lastEntry != nil {
		report.UpToDate = true
		s.recordCopy(projectName, deviceName, lastEntry.Timestamp, lastUpdate)
		s.logger.Info("backup up to date", "run", run, "project", projectName,
			"device", deviceName, "files", current.Len())
		return report, nil
	}

	paths := make([]string, 0, len(diff.Added)+len(diff.Changed))
	paths = append(paths, diff.Added...)
	paths = append(paths, diff.Changed...)
	sort.Strings(paths)

	for i, p := range paths {
		if cerr := ctx.Err(); cerr != nil {
			return nil, &PartialTransferError{
				Project: projectName, Device: deviceName,
				Failed: paths[i:], Err: cerr,
			}
		}
		n, uerr := s.uploadOne(ctx, conn, *project, p, current)
		if uerr != nil {
			return nil, &PartialTransferError{
				Project: projectName, Device: deviceName,
				Failed: paths[i:], Err: uerr,
			}
		}
		report.Uploaded++
		report.Bytes += n
	}

	// Persist the new state on the device before advancing the index.
	if err := conn.WriteManifest(ctx, projectName, current); err != nil {
		return nil, fmt.Errorf("writing device manifest: %w", err)
	}

	var floor index.Entry
	if e, ok := s.store.Latest(deviceName, projectName); ok {
		floor = e
	}
	st := newStamper(s.clock, floor.Timestamp)

	batch := make([]index.Entry, 0, len(diff.Removed)+1)
	for _, p := range diff.Removed {
		oldEntry, ok := old.Entry(p)
		if !ok {
			continue
		}
		batch = append(batch, index.Entry{
			StorageID:   deviceName,
			Project:     projectName,
			Event:       index.EventRemoved,
			Fingerprint: oldEntry.Fingerprint(),
			Timestamp:   st.next(),
			Origin:      origin,
		})
		report.Removed++
	}
	uploaded := index.Entry{
		StorageID:   deviceName,
		Project:     projectName,
		Event:       index.EventUploaded,
		Fingerprint: report.ManifestHash,
		Timestamp:   st.next(),
		Origin:      origin,
	}
	batch = append(batch, uploaded)

	if err := s.store.AppendAll(batch); err != nil {
		return nil, fmt.Errorf("advancing index: %w", err)
	}
	if err := s.catalog.AppendEntries(ctx, batch); err != nil {
		return nil, fmt.Errorf("persisting index entries: %w", err)
	}
	if err := s.catalog.PutManifest(ctx, report.ManifestHash, current); err != nil {
		s.logger.Warn("caching manifest", "project", projectName, "error", err)
	}

	// Push the merged view back so the device's log reflects this run.
	if err := conn.WriteLog(ctx, s.store.All()); err != nil {
		report.LogPushed = false
		s.logger.Warn("pushing index log", "device", deviceName, "error", err)
	}

	s.recordCopy(projectName, deviceName, uploaded.Timestamp, lastUpdate)

	s.logger.Info("backup complete", "run", run, "project", projectName,
		"device", deviceName, "uploaded", report.Uploaded, "removed", report.Removed,
		"bytes", report.Bytes, "manifest", report.ManifestHash)
	return report, nil
}

func (s *Service) uploadOne(ctx context.Context, conn Connection, project model.Project, path string, m *index.Manifest) (int64, error) {
	entry, ok := m.Entry(path)
	if !ok {
		return 0, fmt.Errorf("file missing from manifest: %s", path)
	}
	r, err := s.primary.Open(ctx, project.Root, path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer r.Close()
	if err := conn.Upload(ctx, project.Name, path, r, int64(entry.Size)); err != nil {
		return 0, fmt.Errorf("uploading %s: %w", path, err)
	}
	return int64(entry.Size), nil
}

// DeviceRun is the per-device outcome of a multi-device backup.
type DeviceRun struct {
	Device string
	Report *BackupReport
	Err    error
}

// BackupProject backs a project up to every eligible candidate device in
// parallel. Per-device failures are collected in the returned runs rather
// than aborting the whole operation. When the project's class is not
// satisfied and no device qualifies at all, the error is
// ComplianceUnsatisfiableError.
func (s *Service) BackupProject(ctx context.Context, projectName string) ([]DeviceRun, error) {
	status, err := s.GetProjectStatus(projectName)
	if err != nil {
		return nil, err
	}
	if status.Project.Tracking.Status != model.StatusTracked {
		return nil, fmt.Errorf("project is not tracked: %s", projectName)
	}
	candidates := status.Evaluation.Candidates
	if len(candidates) == 0 {
		if status.Evaluation.Verdict == VerdictSatisfied {
			return nil, nil
		}
		return nil, &ComplianceUnsatisfiableError{
			Project: projectName,
			Class:   status.Project.Tracking.Class,
		}
	}

	runs := make([]DeviceRun, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelRuns)
	for i, cand := range candidates {
		runs[i].Device = cand.Name
		g.Go(func() error {
			report, rerr := s.Backup(gctx, projectName, cand.Name)
			runs[i].Report = report
			runs[i].Err = rerr
			return nil
		})
	}
	_ = g.Wait()
	return runs, nil
}

// PurgeReport summarizes eager deletion of superseded files on one device.
type PurgeReport struct {
	Project string
	Device  string
	Deleted []string
	Failed  []string
}

// PurgeRemoved physically deletes files on the device that the project's
// current manifest no longer references. The index already carries the
// removal tombstones; purging only reclaims space and never touches the
// current backup.
func (s *Service) PurgeRemoved(ctx context.Context, projectName, deviceName string) (*PurgeReport, error) {
	project, err := s.registry.Project(projectName)
	if err != nil {
		return nil, fmt.Errorf("looking up project: %w", err)
	}
	if project == nil {
		return nil, fmt.Errorf("project is not registered: %s", projectName)
	}
	device, err := s.registry.Device(deviceName)
	if err != nil {
		return nil, fmt.Errorf("looking up device: %w", err)
	}
	if device == nil {
		return nil, fmt.Errorf("device is not registered: %s", deviceName)
	}

	unlock := s.lockRun(projectName, deviceName)
	defer unlock()

	conn, err := s.connect(ctx, deviceName)
	if err != nil {
		return nil, err
	}
	defer s.release(conn, deviceName)

	s.mergeDeviceLog(ctx, conn, deviceName)

	current, lastEntry, err := s.lastManifest(ctx, conn, deviceName, projectName)
	if err != nil {
		return nil, err
	}
	report := &PurgeReport{Project: projectName, Device: deviceName}
	if lastEntry == nil {
		return report, nil
	}

	files, err := conn.ListFiles(ctx, projectName)
	if err != nil {
		return nil, fmt.Errorf("listing device files: %w", err)
	}
	sort.Strings(files)
	for _, p := range files {
		if _, ok := current.Entry(p); ok {
			continue
		}
		if cerr := ctx.Err(); cerr != nil {
			return report, cerr
		}
		if derr := conn.Delete(ctx, projectName, p); derr != nil {
			s.logger.Warn("purging file", "project", projectName, "device", deviceName,
				"path", p, "error", derr)
			report.Failed = append(report.Failed, p)
			continue
		}
		report.Deleted = append(report.Deleted, p)
	}

	s.logger.Info("purge complete", "project", projectName, "device", deviceName,
		"deleted", len(report.Deleted), "failed", len(report.Failed))
	if len(report.Failed) > 0 {
		return report, &PartialTransferError{
			Project: projectName, Device: deviceName,
			Failed: report.Failed,
			Err:    fmt.Errorf("%d file(s) could not be deleted", len(report.Failed)),
		}
	}
	return report, nil
}
