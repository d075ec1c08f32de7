package testutil

import (
	"fmt"
	"sort"
	"sync"

	"bkp-go/internal/bkp"
	"bkp-go/internal/model"
)

// MemRegistry is an in-memory registry for testing. Mutations take effect
// immediately; nothing is persisted.
type MemRegistry struct {
	mu       sync.Mutex
	hostID   string
	devices  map[string]model.DeviceInfo
	params   map[string]map[string]string
	projects map[string]model.Project
	classes  map[string]model.RequirementClass
}

// NewMemRegistry creates a MemRegistry with the given host ID and the
// default requirement class registered.
func NewMemRegistry(hostID string) *MemRegistry {
	def := model.DefaultRequirementClass()
	return &MemRegistry{
		hostID:   hostID,
		devices:  make(map[string]model.DeviceInfo),
		params:   make(map[string]map[string]string),
		projects: make(map[string]model.Project),
		classes:  map[string]model.RequirementClass{def.Name: def},
	}
}

func (r *MemRegistry) HostID() (string, error) {
	return r.hostID, nil
}

func (r *MemRegistry) Devices() ([]model.DeviceInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	devices := make([]model.DeviceInfo, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices, nil
}

func (r *MemRegistry) Device(name string) (*model.DeviceInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[name]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

// Params returns the adapter parameters recorded for a device.
func (r *MemRegistry) Params(name string) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.params[name]
}

func (r *MemRegistry) AddDevice(device model.DeviceInfo, params map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[device.Name]; ok {
		return fmt.Errorf("device already registered: %s", device.Name)
	}
	r.devices[device.Name] = device
	r.params[device.Name] = params
	return nil
}

func (r *MemRegistry) UpdateDevice(device model.DeviceInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[device.Name]; !ok {
		return fmt.Errorf("device is not registered: %s", device.Name)
	}
	r.devices[device.Name] = device
	return nil
}

func (r *MemRegistry) RemoveDevice(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[name]; !ok {
		return fmt.Errorf("device is not registered: %s", name)
	}
	delete(r.devices, name)
	delete(r.params, name)
	return nil
}

func (r *MemRegistry) Projects() ([]model.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	projects := make([]model.Project, 0, len(r.projects))
	for _, p := range r.projects {
		projects = append(projects, p)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	return projects, nil
}

func (r *MemRegistry) Project(name string) (*model.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[name]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *MemRegistry) AddProject(project model.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[project.Name]; ok {
		return fmt.Errorf("project already tracked: %s", project.Name)
	}
	r.projects[project.Name] = project
	return nil
}

func (r *MemRegistry) UpdateProject(project model.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[project.Name]; !ok {
		return fmt.Errorf("project is not tracked: %s", project.Name)
	}
	r.projects[project.Name] = project
	return nil
}

func (r *MemRegistry) RemoveProject(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[name]; !ok {
		return fmt.Errorf("project is not tracked: %s", name)
	}
	delete(r.projects, name)
	return nil
}

func (r *MemRegistry) Classes() ([]model.RequirementClass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	classes := make([]model.RequirementClass, 0, len(r.classes))
	for _, c := range r.classes {
		classes = append(classes, c)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].Name < classes[j].Name })
	return classes, nil
}

func (r *MemRegistry) Class(name string) (*model.RequirementClass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.classes[name]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *MemRegistry) AddClass(class model.RequirementClass) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.classes[class.Name]; ok {
		return fmt.Errorf("class already exists: %s", class.Name)
	}
	r.classes[class.Name] = class
	return nil
}

// Compile-time check
var _ bkp.Registry = (*MemRegistry)(nil)
