package bkp

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/im7mortal/kmutex"

	"bkp-go/internal/index"
	"bkp-go/internal/model"
)

// Service is the orchestration layer that coordinates the registry, the
// local index catalog and the device ports to perform the high-level
// operations needed by the CLI.
type Service struct {
	registry Registry
	catalog  Catalog
	primary  PrimaryDevice
	opener   DeviceOpener
	store    *index.Store
	logger   Logger
	clock    Clock
	idgen    IDGenerator

	// runLocks serializes runs per (project, device) pair. Different pairs
	// proceed in parallel.
	runLocks *kmutex.Kmutex
}

// NewService creates a new Service with the provided dependencies. Call
// LoadIndex before running operations that consult the index.
func NewService(registry Registry, catalog Catalog, primary PrimaryDevice, opener DeviceOpener, logger Logger, clock Clock, idgen IDGenerator) *Service {
	return &Service{
		registry: registry,
		catalog:  catalog,
		primary:  primary,
		opener:   opener,
		store:    index.NewStore(),
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		runLocks: kmutex.New(),
	}
}

// LoadIndex hydrates the in-memory index view from the local catalog.
func (s *Service) LoadIndex(ctx context.Context) error {
	entries, err := s.catalog.LoadEntries(ctx)
	if err != nil {
		return fmt.Errorf("loading index entries: %w", err)
	}
	if err := s.store.AppendAll(entries); err != nil {
		return fmt.Errorf("hydrating index: %w", err)
	}
	s.logger.Debug("index loaded", "entries", len(entries))
	return nil
}

// Index exposes the merged index view for read-only queries.
func (s *Service) Index() *index.Store { return s.store }

// Close releases the service's durable resources.
func (s *Service) Close() error {
	return s.catalog.Close()
}

// lockRun acquires the per-(project, device) run lock and returns the
// release function.
func (s *Service) lockRun(project, device string) func() {
	key := project + "\x00" + device
	s.runLocks.Lock(key)
	return func() { s.runLocks.Unlock(key) }
}

// validName rejects names that cannot live in device layouts or the index
// wire format: empty names, path separators, control characters and the
// dot names that would resolve outside a device's content directory.
func validName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s name must not be empty", kind)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%s name is reserved: %q", kind, name)
	}
	if strings.ContainsAny(name, "/\\\t\n") {
		return fmt.Errorf("%s name contains unsupported characters: %q", kind, name)
	}
	return nil
}

// AddProject registers a directory tree as a tracked project. The class must
// name a registered requirement class. If a project with the same name is
// already registered, this is a no-op when it points at the same root and an
// error otherwise.
func (s *Service) AddProject(name, root, class string) (model.Project, error) {
	if err := validName("project", name); err != nil {
		return model.Project{}, err
	}
	if root == "" {
		return model.Project{}, fmt.Errorf("project root must not be empty")
	}
	cls, err := s.registry.Class(class)
	if err != nil {
		return model.Project{}, fmt.Errorf("looking up class: %w", err)
	}
	if cls == nil {
		return model.Project{}, fmt.Errorf("unknown requirement class: %s", class)
	}

	existing, err := s.registry.Project(name)
	if err != nil {
		return model.Project{}, fmt.Errorf("checking for existing project: %w", err)
	}
	if existing != nil {
		if existing.Root == root {
			return *existing, nil
		}
		return model.Project{}, fmt.Errorf("project %q already registered with root %s", name, existing.Root)
	}

	project := model.Project{
		Name:     name,
		Root:     root,
		Tracking: model.TrackedSince(class, s.clock.Now()),
	}
	if err := s.registry.AddProject(project); err != nil {
		return model.Project{}, fmt.Errorf("adding project: %w", err)
	}
	s.logger.Info("project added", "project", name, "root", root, "class", class)
	return project, nil
}

// RemoveProject unregisters a project. Copies already on devices and the
// index history that references them are kept.
func (s *Service) RemoveProject(name string) error {
	existing, err := s.registry.Project(name)
	if err != nil {
		return fmt.Errorf("looking up project: %w", err)
	}
	if existing == nil {
		return fmt.Errorf("project is not registered: %s", name)
	}
	if err := s.registry.RemoveProject(name); err != nil {
		return fmt.Errorf("removing project: %w", err)
	}
	s.logger.Info("project removed", "project", name)
	return nil
}

// SetProjectClass moves a tracked project to another requirement class.
// Existing copies are kept; the next status evaluation judges them
// against the new class.
func (s *Service) SetProjectClass(project, class string) error {
	existing, err := s.registry.Project(project)
	if err != nil {
		return fmt.Errorf("looking up project: %w", err)
	}
	if existing == nil {
		return fmt.Errorf("project is not registered: %s", project)
	}
	cls, err := s.registry.Class(class)
	if err != nil {
		return fmt.Errorf("looking up class: %w", err)
	}
	if cls == nil {
		return fmt.Errorf("unknown requirement class: %s", class)
	}
	if existing.Tracking.Class == class {
		return nil
	}
	existing.Tracking.Class = class
	if err := s.registry.UpdateProject(*existing); err != nil {
		return fmt.Errorf("updating project: %w", err)
	}
	s.logger.Info("project class changed", "project", project, "class", class)
	return nil
}

// Projects returns the registered projects sorted by name.
func (s *Service) Projects() ([]model.Project, error) {
	projects, err := s.registry.Projects()
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	return projects, nil
}

// ProjectStatus reports one project's tracking state, recorded copies and
// compliance verdict. It reads only local knowledge and never contacts
// devices.
type ProjectStatus struct {
	Project    model.Project
	Evaluation Evaluation
	// Unsatisfiable is true when the class targets can never be met with
	// the registered devices. It is a report, not an error.
	Unsatisfiable bool
}

// GetProjectStatus evaluates one project against its requirement class.
func (s *Service) GetProjectStatus(name string) (*ProjectStatus, error) {
	project, err := s.registry.Project(name)
	if err != nil {
		return nil, fmt.Errorf("looking up project: %w", err)
	}
	if project == nil {
		return nil, fmt.Errorf("project is not registered: %s", name)
	}
	return s.projectStatus(*project)
}

// ProjectStatuses evaluates every registered project, sorted by name.
func (s *Service) ProjectStatuses() ([]ProjectStatus, error) {
	projects, err := s.Projects()
	if err != nil {
		return nil, err
	}
	statuses := make([]ProjectStatus, 0, len(projects))
	for _, p := range projects {
		st, err := s.projectStatus(p)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, *st)
	}
	return statuses, nil
}

func (s *Service) projectStatus(project model.Project) (*ProjectStatus, error) {
	class, err := s.registry.Class(project.Tracking.Class)
	if err != nil {
		return nil, fmt.Errorf("looking up class: %w", err)
	}
	if class == nil {
		return nil, fmt.Errorf("project %q references unknown class %q", project.Name, project.Tracking.Class)
	}
	devices, err := s.registry.Devices()
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return &ProjectStatus{
		Project:       project,
		Evaluation:    Evaluate(*class, project, devices),
		Unsatisfiable: Unsatisfiable(*class, devices),
	}, nil
}

// AddDevice registers a secondary device. Params are opaque to the core and
// interpreted by the device factory; registration fails when the factory
// rejects them.
func (s *Service) AddDevice(device model.DeviceInfo, params map[string]string) error {
	if err := validName("device", device.Name); err != nil {
		return err
	}
	existing, err := s.registry.Device(device.Name)
	if err != nil {
		return fmt.Errorf("checking for existing device: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("device %q is already registered", device.Name)
	}
	if err := s.registry.AddDevice(device, params); err != nil {
		return fmt.Errorf("adding device: %w", err)
	}
	if _, err := s.opener.Open(device.Name); err != nil {
		if rmErr := s.registry.RemoveDevice(device.Name); rmErr != nil {
			s.logger.Error("rolling back device registration", "device", device.Name, "error", rmErr)
		}
		return fmt.Errorf("validating device config: %w", err)
	}
	s.logger.Info("device added", "device", device.Name, "type", device.DeviceType,
		"location", device.Location, "security_level", device.SecurityLevel)
	return nil
}

// RemoveDevice unregisters a device. Data on the device and index history
// that references it are kept.
func (s *Service) RemoveDevice(name string) error {
	existing, err := s.registry.Device(name)
	if err != nil {
		return fmt.Errorf("looking up device: %w", err)
	}
	if existing == nil {
		return fmt.Errorf("device is not registered: %s", name)
	}
	if err := s.registry.RemoveDevice(name); err != nil {
		return fmt.Errorf("removing device: %w", err)
	}
	s.logger.Info("device removed", "device", name)
	return nil
}

// Devices returns the registered devices sorted by name.
func (s *Service) Devices() ([]model.DeviceInfo, error) {
	devices, err := s.registry.Devices()
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices, nil
}

// AddClass registers a named requirement class.
func (s *Service) AddClass(class model.RequirementClass) error {
	existing, err := s.registry.Class(class.Name)
	if err != nil {
		return fmt.Errorf("checking for existing class: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("class %q is already registered", class.Name)
	}
	if err := s.registry.AddClass(class); err != nil {
		return fmt.Errorf("adding class: %w", err)
	}
	s.logger.Info("class added", "class", class.Name,
		"copies", class.TargetCopies, "locations", class.TargetLocations,
		"min_security_level", class.MinSecurityLevel)
	return nil
}

// Classes returns the registered requirement classes sorted by name.
func (s *Service) Classes() ([]model.RequirementClass, error) {
	classes, err := s.registry.Classes()
	if err != nil {
		return nil, fmt.Errorf("listing classes: %w", err)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].Name < classes[j].Name })
	return classes, nil
}
