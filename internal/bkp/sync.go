package bkp

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// SyncReport summarizes one index reconciliation with a device.
type SyncReport struct {
	Device     string
	Added      int
	Duplicates int
	Pushed     int
}

// SyncIndexes reconciles index knowledge with one device: the device's log
// fragment merges into the local view, then the full merged view is pushed
// back. Merging is idempotent and commutative, so repeated or crossed syncs
// converge to the same view.
func (s *Service) SyncIndexes(ctx context.Context, deviceName string) (*SyncReport, error) {
	device, err := s.registry.Device(deviceName)
	if err != nil {
		return nil, fmt.Errorf("looking up device: %w", err)
	}
	if device == nil {
		return nil, fmt.Errorf("device is not registered: %s", deviceName)
	}

	conn, err := s.connect(ctx, deviceName)
	if err != nil {
		return nil, err
	}
	defer s.release(conn, deviceName)

	entries, err := conn.ReadLog(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading device log: %w", err)
	}
	res, err := s.store.Merge(deviceName, entries)
	if err != nil {
		return nil, err
	}
	if res.Added > 0 {
		if err := s.catalog.AppendEntries(ctx, entries); err != nil {
			return nil, fmt.Errorf("persisting merged entries: %w", err)
		}
	}

	all := s.store.All()
	if err := conn.WriteLog(ctx, all); err != nil {
		return nil, fmt.Errorf("pushing index log: %w", err)
	}

	s.logger.Info("index synced", "device", deviceName,
		"added", res.Added, "duplicates", res.Duplicates, "pushed", len(all))
	return &SyncReport{
		Device:     deviceName,
		Added:      res.Added,
		Duplicates: res.Duplicates,
		Pushed:     len(all),
	}, nil
}

// SyncRun is the per-device outcome of a multi-device sync.
type SyncRun struct {
	Device string
	Report *SyncReport
	Err    error
}

// SyncAll reconciles index knowledge with every registered device in
// parallel. Unreachable devices are reported in their run, not fatal.
func (s *Service) SyncAll(ctx context.Context) ([]SyncRun, error) {
	devices, err := s.Devices()
	if err != nil {
		return nil, err
	}
	runs := make([]SyncRun, len(devices))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelRuns)
	for i, d := range devices {
		runs[i].Device = d.Name
		g.Go(func() error {
			report, rerr := s.SyncIndexes(gctx, d.Name)
			runs[i].Report = report
			runs[i].Err = rerr
			return nil
		})
	}
	_ = g.Wait()
	return runs, nil
}
