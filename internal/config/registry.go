package config

import (
	"fmt"
	"sync"

	"bkp-go/internal/bkp"
	"bkp-go/internal/model"
)

// Registry serves registry reads and writes from the global config file.
// Every mutation is persisted before it becomes visible; a failed write
// leaves the in-memory view untouched.
type Registry struct {
	path string
	mu   sync.Mutex
	cfg  *Config
}

var _ bkp.Registry = (*Registry)(nil)

// NewRegistry loads the config file at path.
func NewRegistry(path string) (*Registry, error) {
	cfg, err := ReadFromFile(path)
	if err != nil {
		return nil, err
	}
	return &Registry{path: path, cfg: cfg}, nil
}

// Snapshot returns a copy of the underlying config for wiring decisions.
// Callers must treat it as read-only.
func (r *Registry) Snapshot() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.cfg
}

func (r *Registry) save() error {
	return writeToFile(r.path, r.cfg)
}

// HostID returns the stable identifier of the primary device.
func (r *Registry) HostID() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg.HostID == "" {
		return "", fmt.Errorf("config has no host_id")
	}
	return r.cfg.HostID, nil
}

// Devices returns every registered device.
func (r *Registry) Devices() ([]model.DeviceInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.DeviceInfo, 0, len(r.cfg.Devices))
	for _, d := range r.cfg.Devices {
		out = append(out, d.Info())
	}
	return out, nil
}

// Device returns the named device, or nil when it is not registered.
func (r *Registry) Device(name string) (*model.DeviceInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.cfg.Devices {
		if d.Name == name {
			info := d.Info()
			return &info, nil
		}
	}
	return nil, nil
}

// DeviceConfig returns the named device's full entry including adapter
// parameters, or nil when it is not registered.
func (r *Registry) DeviceConfig(name string) (*DeviceConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.cfg.Devices {
		if d.Name == name {
			entry := d
			return &entry, nil
		}
	}
	return nil, nil
}

// AddDevice registers a device together with its adapter parameters.
func (r *Registry) AddDevice(info model.DeviceInfo, params map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.cfg.Devices {
		if d.Name == info.Name {
			return fmt.Errorf("device %q already exists", info.Name)
		}
	}
	entry := DeviceConfig{
		Name:              info.Name,
		Type:              info.DeviceType,
		Location:          info.Location,
		SecurityLevel:     info.SecurityLevel,
		LastConnection:    info.LastConnection,
		LastDisconnection: info.LastDisconnection,
	}
	for k, v := range params {
		switch k {
		case "path":
			entry.Path = v
		case "bucket":
			entry.S3Bucket = v
		case "prefix":
			entry.S3Prefix = v
		case "region":
			entry.S3Region = v
		case "endpoint":
			entry.S3Endpoint = v
		case "access_key":
			entry.S3AccessKey = v
		case "secret_key":
			entry.S3SecretKey = v
		default:
			return fmt.Errorf("unknown device parameter %q", k)
		}
	}
	r.cfg.Devices = append(r.cfg.Devices, entry)
	if err := r.save(); err != nil {
		r.cfg.Devices = r.cfg.Devices[:len(r.cfg.Devices)-1]
		return err
	}
	return nil
}

// UpdateDevice replaces the metadata of a registered device. Adapter
// parameters and the device type are kept as they are.
func (r *Registry) UpdateDevice(info model.DeviceInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.deviceIndex(info.Name)
	if idx < 0 {
		return fmt.Errorf("device %q does not exist", info.Name)
	}
	prev := r.cfg.Devices[idx]
	entry := prev
	entry.Location = info.Location
	entry.SecurityLevel = info.SecurityLevel
	entry.LastConnection = info.LastConnection
	entry.LastDisconnection = info.LastDisconnection
	r.cfg.Devices[idx] = entry
	if err := r.save(); err != nil {
		r.cfg.Devices[idx] = prev
		return err
	}
	return nil
}

// RemoveDevice unregisters a device.
func (r *Registry) RemoveDevice(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.deviceIndex(name)
	if idx < 0 {
		return fmt.Errorf("device %q does not exist", name)
	}
	old := r.cfg.Devices
	out := make([]DeviceConfig, 0, len(old)-1)
	out = append(out, old[:idx]...)
	out = append(out, old[idx+1:]...)
	r.cfg.Devices = out
	if err := r.save(); err != nil {
		r.cfg.Devices = old
		return err
	}
	return nil
}

func (r *Registry) deviceIndex(name string) int {
	for i, d := range r.cfg.Devices {
		if d.Name == name {
			return i
		}
	}
	return -1
}

// Projects returns every registered project.
func (r *Registry) Projects() ([]model.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Project, 0, len(r.cfg.Projects))
	for _, p := range r.cfg.Projects {
		out = append(out, p.Project())
	}
	return out, nil
}

// Project returns the named project, or nil when it is not registered.
func (r *Registry) Project(name string) (*model.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.cfg.Projects {
		if p.Name == name {
			project := p.Project()
			return &project, nil
		}
	}
	return nil, nil
}

// AddProject registers a project.
func (r *Registry) AddProject(project model.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.cfg.Projects {
		if p.Name == project.Name {
			return fmt.Errorf("project %q already exists", project.Name)
		}
	}
	r.cfg.Projects = append(r.cfg.Projects, projectConfig(project))
	if err := r.save(); err != nil {
		r.cfg.Projects = r.cfg.Projects[:len(r.cfg.Projects)-1]
		return err
	}
	return nil
}

// UpdateProject replaces a registered project's entry.
func (r *Registry) UpdateProject(project model.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := -1
	for i, p := range r.cfg.Projects {
		if p.Name == project.Name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("project %q does not exist", project.Name)
	}
	prev := r.cfg.Projects[idx]
	r.cfg.Projects[idx] = projectConfig(project)
	if err := r.save(); err != nil {
		r.cfg.Projects[idx] = prev
		return err
	}
	return nil
}

// RemoveProject unregisters a project.
func (r *Registry) RemoveProject(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := -1
	for i, p := range r.cfg.Projects {
		if p.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("project %q does not exist", name)
	}
	old := r.cfg.Projects
	out := make([]ProjectConfig, 0, len(old)-1)
	out = append(out, old[:idx]...)
	out = append(out, old[idx+1:]...)
	r.cfg.Projects = out
	if err := r.save(); err != nil {
		r.cfg.Projects = old
		return err
	}
	return nil
}

// Classes returns every registered requirement class.
func (r *Registry) Classes() ([]model.RequirementClass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.RequirementClass, 0, len(r.cfg.Classes))
	for _, c := range r.cfg.Classes {
		class, err := c.Class()
		if err != nil {
			return nil, fmt.Errorf("invalid class %q in config: %w", c.Name, err)
		}
		out = append(out, class)
	}
	return out, nil
}

// Class returns the named requirement class, or nil when it is not
// registered.
func (r *Registry) Class(name string) (*model.RequirementClass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.cfg.Classes {
		if c.Name == name {
			class, err := c.Class()
			if err != nil {
				return nil, fmt.Errorf("invalid class %q in config: %w", c.Name, err)
			}
			return &class, nil
		}
	}
	return nil, nil
}

// AddClass registers a requirement class.
func (r *Registry) AddClass(class model.RequirementClass) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.cfg.Classes {
		if c.Name == class.Name {
			return fmt.Errorf("class %q already exists", class.Name)
		}
	}
	r.cfg.Classes = append(r.cfg.Classes, classConfig(class))
	if err := r.save(); err != nil {
		r.cfg.Classes = r.cfg.Classes[:len(r.cfg.Classes)-1]
		return err
	}
	return nil
}
