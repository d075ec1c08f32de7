package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"bkp-go/internal/bkp"
	"bkp-go/internal/catalog"
	"bkp-go/internal/config"
	"bkp-go/internal/device"
	"bkp-go/internal/fs"
	"bkp-go/internal/model"
)

// App is the application layer between the CLI and the backup Service.
// It constructs all dependencies from the config file, exposes high-level
// operations that accept raw string paths, and manages the catalog
// lifecycle on Close.
type App struct {
	registry *config.Registry
	catalog  bkp.Catalog
	service  *bkp.Service
	logFile  *os.File
}

// NewApp creates a fully wired App from the config file at configPath.
// operation identifies the CLI command being run (e.g. "Backup", "Restore");
// it tags every log line written during this invocation.
// The caller must call Close when done.
func NewApp(ctx context.Context, configPath, operation string) (*App, error) {
	reg, err := config.NewRegistry(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg := reg.Snapshot()

	hostID, err := reg.HostID()
	if err != nil {
		return nil, err
	}

	cat, err := catalog.NewCatalogFromConfig(cfg.Catalog, hostID)
	if err != nil {
		return nil, fmt.Errorf("creating catalog: %w", err)
	}

	primary := fs.NewOSPrimaryDevice(cfg.Ignore)
	opener := device.NewFactory(reg)

	opID := time.Now().UTC().Format("20060102T150405Z") + "-" + operation
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		cat.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	svc := bkp.NewService(reg, cat, primary, opener, &slogAdapter{l: logger}, bkp.RealClock{}, bkp.UUIDGenerator{})
	if err := svc.LoadIndex(ctx); err != nil {
		logFile.Close()
		cat.Close()
		return nil, fmt.Errorf("loading index: %w", err)
	}

	return &App{
		registry: reg,
		catalog:  cat,
		service:  svc,
		logFile:  logFile,
	}, nil
}

// AddProject resolves the given root path and registers it for tracking.
// If name is empty, the base name of the resolved root is used.
// class selects the backup requirement class ("" means the default class).
func (a *App) AddProject(name, rawRoot, class string) (model.Project, error) {
	root, err := filepath.Abs(rawRoot)
	if err != nil {
		return model.Project{}, fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return model.Project{}, fmt.Errorf("checking project root: %w", err)
	}
	if !info.IsDir() {
		return model.Project{}, fmt.Errorf("project root %s is not a directory", root)
	}
	if name == "" {
		name = filepath.Base(root)
	}
	if class == "" {
		class = model.DefaultRequirementClass().Name
	}
	return a.service.AddProject(name, root, class)
}

// RemoveProject removes a project from tracking. Backed up data stays on
// the secondary devices.
func (a *App) RemoveProject(name string) error {
	return a.service.RemoveProject(name)
}

// SetProjectClass moves a project to another requirement class.
func (a *App) SetProjectClass(project, class string) error {
	return a.service.SetProjectClass(project, class)
}

// Projects returns all registered projects sorted by name.
func (a *App) Projects() ([]model.Project, error) {
	return a.service.Projects()
}

// ProjectStatus returns the compliance evaluation for a single project.
func (a *App) ProjectStatus(name string) (*bkp.ProjectStatus, error) {
	return a.service.GetProjectStatus(name)
}

// ProjectStatuses returns the compliance evaluation for every project.
func (a *App) ProjectStatuses() ([]bkp.ProjectStatus, error) {
	return a.service.ProjectStatuses()
}

// AddDevice registers a secondary device and verifies it can be opened.
func (a *App) AddDevice(info model.DeviceInfo, params map[string]string) error {
	return a.service.AddDevice(info, params)
}

// RemoveDevice removes a device from the registry. Data on the device is
// left in place.
func (a *App) RemoveDevice(name string) error {
	return a.service.RemoveDevice(name)
}

// Devices returns all registered devices sorted by name.
func (a *App) Devices() ([]model.DeviceInfo, error) {
	return a.service.Devices()
}

// AddClass registers a new backup requirement class.
func (a *App) AddClass(class model.RequirementClass) error {
	return a.service.AddClass(class)
}

// Classes returns all requirement classes sorted by name.
func (a *App) Classes() ([]model.RequirementClass, error) {
	return a.service.Classes()
}

// Backup backs up one project to one named device.
func (a *App) Backup(ctx context.Context, project, deviceName string) (*bkp.BackupReport, error) {
	return a.service.Backup(ctx, project, deviceName)
}

// BackupProject backs up one project to however many candidate devices its
// requirement class asks for.
func (a *App) BackupProject(ctx context.Context, project string) ([]bkp.DeviceRun, error) {
	return a.service.BackupProject(ctx, project)
}

// Restore downloads the latest backup of a project from a device into dest.
// dest may be a relative path; it is resolved against the working directory.
func (a *App) Restore(ctx context.Context, project, deviceName, rawDest string) (*bkp.RestoreReport, error) {
	dest, err := filepath.Abs(rawDest)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	return a.service.Restore(ctx, project, deviceName, dest)
}

// ExploreDevice walks the projects stored on a device, calling fn for each.
func (a *App) ExploreDevice(ctx context.Context, deviceName string, fn func(bkp.ProjectSummary) error) error {
	return a.service.ExploreDevice(ctx, deviceName, fn)
}

// SyncIndexes exchanges index entries with a single device.
func (a *App) SyncIndexes(ctx context.Context, deviceName string) (*bkp.SyncReport, error) {
	return a.service.SyncIndexes(ctx, deviceName)
}

// SyncAll exchanges index entries with every registered device.
func (a *App) SyncAll(ctx context.Context) ([]bkp.SyncRun, error) {
	return a.service.SyncAll(ctx)
}

// PurgeRemoved deletes files from a device that are no longer part of the
// project's latest backup.
func (a *App) PurgeRemoved(ctx context.Context, project, deviceName string) (*bkp.PurgeReport, error) {
	return a.service.PurgeRemoved(ctx, project, deviceName)
}

// Close releases the catalog and the log file.
func (a *App) Close() error {
	var firstErr error

	if err := a.service.Close(); err != nil {
		firstErr = fmt.Errorf("closing catalog: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
