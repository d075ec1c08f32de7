package bkp

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"bkp-go/internal/index"
)

// RestoreReport summarizes one restore run.
type RestoreReport struct {
	Project      string
	Device       string
	Dest         string
	Restored     int
	Bytes        int64
	Failed       []string
	ManifestHash string
}

// Restore materializes a project from a device into dest: exactly the files
// of the manifest behind the latest Uploaded entry for that (project,
// device) pair, never a superset. The project does not need to be registered
// locally; the index merged from the device is enough, which is what makes
// disaster recovery on a fresh host work. Download failures are collected
// per file and reported together; the rest of the tree is still restored.
func (s *Service) Restore(ctx context.Context, projectName, deviceName, dest string) (*RestoreReport, error) {
	if projectName == "" {
		return nil, fmt.Errorf("project name must not be empty")
	}
	if dest == "" {
		return nil, fmt.Errorf("destination must not be empty")
	}
	device, err := s.registry.Device(deviceName)
	if err != nil {
		return nil, fmt.Errorf("looking up device: %w", err)
	}
	if device == nil {
		return nil, fmt.Errorf("device is not registered: %s", deviceName)
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

	manifest, entry, err := s.lastManifest(ctx, conn, deviceName, projectName)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("no backup of project %q on device %q", projectName, deviceName)
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("creating destination: %w", err)
	}

	report := &RestoreReport{
		Project:      projectName,
		Device:       deviceName,
		Dest:         dest,
		ManifestHash: entry.Fingerprint,
	}
	paths := manifest.Paths()
	for i, p := range paths {
		if cerr := ctx.Err(); cerr != nil {
			report.Failed = append(report.Failed, paths[i:]...)
			return report, &PartialTransferError{
				Project: projectName, Device: deviceName,
				Failed: report.Failed, Err: cerr,
			}
		}
		me, _ := manifest.Entry(p)
		n, derr := s.restoreOne(ctx, conn, projectName, dest, me)
		if derr != nil {
			s.logger.Warn("restoring file", "project", projectName, "device", deviceName,
				"path", p, "error", derr)
			report.Failed = append(report.Failed, p)
			continue
		}
		report.Restored++
		report.Bytes += n
	}

	if len(report.Failed) > 0 {
		return report, &PartialTransferError{
			Project: projectName, Device: deviceName,
			Failed: report.Failed,
			Err:    fmt.Errorf("%d file(s) could not be restored", len(report.Failed)),
		}
	}
	s.logger.Info("restore complete", "run", run, "project", projectName,
		"device", deviceName, "dest", dest, "files", report.Restored, "bytes", report.Bytes)
	return report, nil
}

func (s *Service) restoreOne(ctx context.Context, conn Connection, projectName, dest string, me index.ManifestEntry) (int64, error) {
	rel := filepath.FromSlash(me.Path)
	if !filepath.IsLocal(rel) {
		return 0, fmt.Errorf("manifest path escapes the destination: %q", me.Path)
	}
	target := filepath.Join(dest, rel)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("creating parent directory: %w", err)
	}
	f, err := os.Create(target)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", target, err)
	}
	cw := &countingWriter{w: f}
	if err := conn.Download(ctx, projectName, me.Path, cw); err != nil {
		f.Close()
		os.Remove(target)
		return 0, fmt.Errorf("downloading %s: %w", me.Path, err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("closing %s: %w", target, err)
	}
	mtime := time.UnixMilli(int64(me.MTime))
	if err := os.Chtimes(target, mtime, mtime); err != nil {
		return cw.n, fmt.Errorf("setting times on %s: %w", target, err)
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
