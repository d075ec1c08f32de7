package bkp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"bkp-go/internal/index"
	"bkp-go/internal/model"
)

const (
	// connectAttempts bounds how often a device connection is retried
	// before the device is declared unreachable.
	connectAttempts = 3
	connectBackoff  = 200 * time.Millisecond
)

// connect opens a device and establishes a connection with retry. A device
// that stays unreachable after all attempts yields DeviceUnreachableError.
// The device's last-connection time is recorded on success.
func (s *Service) connect(ctx context.Context, deviceName string) (Connection, error) {
	dev, err := s.opener.Open(deviceName)
	if err != nil {
		return nil, fmt.Errorf("opening device %q: %w", deviceName, err)
	}

	var conn Connection
	backoff := retry.WithMaxRetries(connectAttempts-1, retry.NewExponential(connectBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, cerr := dev.Connect(ctx)
		if cerr != nil {
			s.logger.Debug("connect attempt failed", "device", deviceName, "error", cerr)
			return retry.RetryableError(cerr)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, &DeviceUnreachableError{Device: deviceName, Err: err}
	}

	s.touchDevice(deviceName, false)
	return conn, nil
}

// release closes a connection and records the disconnection time.
func (s *Service) release(conn Connection, deviceName string) {
	if err := conn.Close(); err != nil {
		s.logger.Warn("closing device connection", "device", deviceName, "error", err)
	}
	s.touchDevice(deviceName, true)
}

func (s *Service) touchDevice(name string, disconnect bool) {
	d, err := s.registry.Device(name)
	if err != nil || d == nil {
		return
	}
	if disconnect {
		d.LastDisconnection = s.clock.Now()
	} else {
		d.LastConnection = s.clock.Now()
	}
	if err := s.registry.UpdateDevice(*d); err != nil {
		s.logger.Warn("recording device liveness", "device", name, "error", err)
	}
}

// mergeDeviceLog pulls the device's log fragment into the local view and
// persists anything new. A corrupt fragment is rejected and logged; the run
// continues on local knowledge alone.
func (s *Service) mergeDeviceLog(ctx context.Context, conn Connection, deviceName string) {
	entries, err := conn.ReadLog(ctx)
	if err != nil {
		s.logger.Warn("reading device log", "device", deviceName, "error", err)
		return
	}
	res, err := s.store.Merge(deviceName, entries)
	if err != nil {
		s.logger.Warn("merging device log", "device", deviceName, "error", err)
		return
	}
	if res.Added > 0 {
		if err := s.catalog.AppendEntries(ctx, entries); err != nil {
			s.logger.Warn("persisting merged entries", "device", deviceName, "error", err)
		}
	}
	s.logger.Debug("device log merged", "device", deviceName,
		"added", res.Added, "duplicates", res.Duplicates)
}

// scanProject walks the project tree on the primary device and builds the
// manifest of tracked files. It also returns the most recent modification
// time observed in the tree.
func (s *Service) scanProject(ctx context.Context, project model.Project) (*index.Manifest, time.Time, error) {
	directives, err := s.primary.ReadDirectives(ctx, project.Root)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading project directives: %w", err)
	}
	rules, err := NewRuleset(project.Tracking.Status, directives)
	if err != nil {
		return nil, time.Time{}, err
	}

	manifest := index.NewManifest()
	var lastUpdate time.Time
	err = s.primary.WalkTree(ctx, project.Root, func(entry TreeEntry) error {
		if rules.Effective(entry.Path) != model.StatusTracked {
			return nil
		}
		err := manifest.Insert(entry.Path,
			uint64(entry.ChangeTime.UnixMilli()),
			uint64(entry.ModTime.UnixMilli()),
			uint64(entry.Size))
		if err != nil {
			return err
		}
		if entry.ModTime.After(lastUpdate) {
			lastUpdate = entry.ModTime
		}
		return nil
	})
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("walking project tree: %w", err)
	}
	return manifest, lastUpdate, nil
}

// lastManifest returns the manifest behind the latest Uploaded entry for the
// (device, project) pair, or an empty manifest when no backup is known. The
// local catalog is consulted first; on a miss the manifest is rebuilt from
// the device and cached. A device-side manifest that is corrupt or does not
// hash to the index entry's fingerprint is trusted on neither side: the run
// falls back to an empty baseline and re-uploads instead of failing every
// retry identically.
func (s *Service) lastManifest(ctx context.Context, conn Connection, deviceName, projectName string) (*index.Manifest, *index.Entry, error) {
	entry, ok := s.store.LatestUploaded(deviceName, projectName)
	if !ok {
		return index.NewManifest(), nil, nil
	}
	m, err := s.catalog.GetManifest(ctx, entry.Fingerprint)
	if err != nil {
		return nil, nil, fmt.Errorf("loading cached manifest: %w", err)
	}
	if m == nil {
		m, err = s.walkDeviceManifest(ctx, conn, projectName)
		if err != nil {
			var corrupt *index.CorruptionError
			if !errors.As(err, &corrupt) {
				return nil, nil, err
			}
			s.logger.Warn("device manifest unreadable, starting from an empty baseline",
				"device", deviceName, "project", projectName, "error", err)
			return index.NewManifest(), nil, nil
		}
		if h := m.Hash(); h != entry.Fingerprint {
			s.logger.Warn("device manifest does not match the index, starting from an empty baseline",
				"device", deviceName, "project", projectName,
				"manifest", h, "expected", entry.Fingerprint)
			return index.NewManifest(), nil, nil
		}
		if err := s.catalog.PutManifest(ctx, entry.Fingerprint, m); err != nil {
			s.logger.Warn("caching device manifest", "device", deviceName, "error", err)
		}
	}
	return m, &entry, nil
}

func (s *Service) walkDeviceManifest(ctx context.Context, conn Connection, projectName string) (*index.Manifest, error) {
	m := index.NewManifest()
	err := conn.WalkManifest(ctx, projectName, func(e index.ManifestEntry) error {
		return m.Insert(e.Path, e.CTime, e.MTime, e.Size)
	})
	if err != nil {
		return nil, fmt.Errorf("walking device manifest: %w", err)
	}
	return m, nil
}

// recordCopy updates the project's copy slot for a device after a
// successful run and refreshes the observed modification time.
func (s *Service) recordCopy(projectName, deviceName string, backedUp, lastUpdate time.Time) {
	p, err := s.registry.Project(projectName)
	if err != nil || p == nil {
		return
	}
	if lastUpdate.After(p.Tracking.LastUpdate) {
		p.Tracking.LastUpdate = lastUpdate
	}
	found := false
	for i := range p.Tracking.Copies {
		if p.Tracking.Copies[i].DeviceName == deviceName {
			if backedUp.After(p.Tracking.Copies[i].LastBackup) {
				p.Tracking.Copies[i].LastBackup = backedUp
			}
			found = true
		}
	}
	if !found {
		p.Tracking.Copies = append(p.Tracking.Copies, model.ProjectCopy{
			DeviceName: deviceName,
			LastBackup: backedUp,
		})
	}
	if err := s.registry.UpdateProject(*p); err != nil {
		s.logger.Warn("recording project copy", "project", projectName, "error", err)
	}
}

// stamper issues strictly increasing millisecond timestamps for the index
// entries authored in one run, so every entry in a batch gets a distinct
// identity and the batch's Uploaded entry lands last.
type stamper struct {
	clock Clock
	last  time.Time
}

func newStamper(clock Clock, floor time.Time) *stamper {
	return &stamper{clock: clock, last: floor.Truncate(time.Millisecond)}
}

func (st *stamper) next() time.Time {
	now := st.clock.Now().Truncate(time.Millisecond)
	if !now.After(st.last) {
		now = st.last.Add(time.Millisecond)
	}
	st.last = now
	return now
}
