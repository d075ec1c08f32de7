package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"bkp-go/internal/model"
)

// Config represents the main configuration for bkp: the host identity plus
// every registered device, requirement class and project.
type Config struct {
	HostID  string        `toml:"host_id"`
	BaseDir string        `toml:"base_dir"`
	LogDir  string        `toml:"log_dir"`
	Ignore  []string      `toml:"ignore,omitempty"`
	Catalog CatalogConfig `toml:"catalog"`

	Devices  []DeviceConfig  `toml:"devices"`
	Classes  []ClassConfig   `toml:"classes"`
	Projects []ProjectConfig `toml:"projects"`
}

// CatalogConfig represents configuration for the local index catalog.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type CatalogConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// DeviceConfig represents one registered secondary device.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DeviceConfig struct {
	Name          string              `toml:"name"`
	Type          string              `toml:"type"` // "localdir", "s3", or "memory"
	Location      string              `toml:"location"`
	SecurityLevel model.SecurityLevel `toml:"security_level"`

	LastConnection    time.Time `toml:"last_connection"`
	LastDisconnection time.Time `toml:"last_disconnection"`

	// LocalDir-specific fields (only used when Type == "localdir")
	Path string `toml:"path,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`
}

// Info converts the entry to the core's device model.
func (d DeviceConfig) Info() model.DeviceInfo {
	return model.DeviceInfo{
		Name:              d.Name,
		Location:          d.Location,
		SecurityLevel:     d.SecurityLevel,
		DeviceType:        d.Type,
		LastConnection:    d.LastConnection,
		LastDisconnection: d.LastDisconnection,
	}
}

// ClassConfig represents one named backup requirement class.
type ClassConfig struct {
	Name             string              `toml:"name"`
	Copies           uint32              `toml:"copies"`
	Locations        uint32              `toml:"locations"`
	MinSecurityLevel model.SecurityLevel `toml:"min_security_level"`
}

// Class converts the entry to the core's model, validating the targets.
func (c ClassConfig) Class() (model.RequirementClass, error) {
	return model.NewRequirementClass(c.Name, c.Copies, c.Locations, c.MinSecurityLevel)
}

func classConfig(c model.RequirementClass) ClassConfig {
	return ClassConfig{
		Name:             c.Name,
		Copies:           c.TargetCopies,
		Locations:        c.TargetLocations,
		MinSecurityLevel: c.MinSecurityLevel,
	}
}

// CopyConfig records that a device holds a copy of a project.
type CopyConfig struct {
	Device     string    `toml:"device"`
	LastBackup time.Time `toml:"last_backup"`
}

// ProjectConfig represents one registered project.
type ProjectConfig struct {
	Name       string       `toml:"name"`
	Root       string       `toml:"root"`
	Status     model.Status `toml:"status"`
	Class      string       `toml:"class,omitempty"`
	LastUpdate time.Time    `toml:"last_update"`
	Copies     []CopyConfig `toml:"copies,omitempty"`
}

// Project converts the entry to the core's project model.
func (p ProjectConfig) Project() model.Project {
	copies := make([]model.ProjectCopy, 0, len(p.Copies))
	for _, c := range p.Copies {
		copies = append(copies, model.ProjectCopy{DeviceName: c.Device, LastBackup: c.LastBackup})
	}
	return model.Project{
		Name: p.Name,
		Root: p.Root,
		Tracking: model.Tracking{
			Status:     p.Status,
			Class:      p.Class,
			LastUpdate: p.LastUpdate,
			Copies:     copies,
		},
	}
}

func projectConfig(p model.Project) ProjectConfig {
	copies := make([]CopyConfig, 0, len(p.Tracking.Copies))
	for _, c := range p.Tracking.Copies {
		copies = append(copies, CopyConfig{Device: c.DeviceName, LastBackup: c.LastBackup})
	}
	return ProjectConfig{
		Name:       p.Name,
		Root:       p.Root,
		Status:     p.Tracking.Status,
		Class:      p.Tracking.Class,
		LastUpdate: p.Tracking.LastUpdate,
		Copies:     copies,
	}
}

// NewConfig creates a new Config with the provided values, default paths and
// the standard requirement class.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Catalog: CatalogConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "catalog"),
		},
		Classes: []ClassConfig{classConfig(model.DefaultRequirementClass())},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path. The file is
// written to a temporary sibling first and renamed into place so a crash
// mid-write never leaves a truncated config behind.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	m := &Manager{}
	if err := m.Write(tmp, cfg); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing config file: %w", err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
