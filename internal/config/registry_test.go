package config

import (
	"path/filepath"
	"testing"
	"time"

	"bkp-go/internal/model"
)

// newTestRegistry initializes a config file in a temp dir and opens a
// Registry over it. The path is returned so tests can reload.
func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bkp.toml")
	if err := Init(path, NewConfig("host-1", dir)); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	reg, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg, path
}

func TestRegistry_HostID(t *testing.T) {
	reg, _ := newTestRegistry(t)

	id, err := reg.HostID()
	if err != nil {
		t.Fatalf("HostID() error = %v", err)
	}
	if id != "host-1" {
		t.Errorf("HostID() = %q, want %q", id, "host-1")
	}
}

func TestRegistry_Devices(t *testing.T) {
	t.Run("mutations survive a reload", func(t *testing.T) {
		reg, path := newTestRegistry(t)

		info := model.DeviceInfo{
			Name:          "usb-a",
			Location:      "home",
			SecurityLevel: model.Local,
			DeviceType:    "localdir",
		}
		if err := reg.AddDevice(info, map[string]string{"path": "/mnt/usb-a"}); err != nil {
			t.Fatalf("AddDevice() error = %v", err)
		}

		reloaded, err := NewRegistry(path)
		if err != nil {
			t.Fatalf("NewRegistry() error = %v", err)
		}
		d, err := reloaded.Device("usb-a")
		if err != nil {
			t.Fatalf("Device() error = %v", err)
		}
		if d == nil {
			t.Fatal("device missing after reload")
		}
		if d.Location != "home" || d.SecurityLevel != model.Local {
			t.Errorf("device = %+v, want home/local", d)
		}
		entry, err := reloaded.DeviceConfig("usb-a")
		if err != nil || entry == nil {
			t.Fatalf("DeviceConfig() = %v, %v", entry, err)
		}
		if entry.Path != "/mnt/usb-a" {
			t.Errorf("Path = %q, want /mnt/usb-a", entry.Path)
		}
	})

	t.Run("update keeps adapter parameters", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		info := model.DeviceInfo{
			Name: "usb-a", Location: "home", SecurityLevel: model.Local, DeviceType: "localdir",
		}
		if err := reg.AddDevice(info, map[string]string{"path": "/mnt/usb-a"}); err != nil {
			t.Fatalf("AddDevice() error = %v", err)
		}

		info.LastConnection = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
		if err := reg.UpdateDevice(info); err != nil {
			t.Fatalf("UpdateDevice() error = %v", err)
		}

		d, _ := reg.Device("usb-a")
		if !d.LastConnection.Equal(info.LastConnection) {
			t.Errorf("LastConnection = %v, want %v", d.LastConnection, info.LastConnection)
		}
		entry, _ := reg.DeviceConfig("usb-a")
		if entry.Path != "/mnt/usb-a" {
			t.Errorf("Path = %q after update, want /mnt/usb-a", entry.Path)
		}
	})

	t.Run("rejects unknown parameters", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		info := model.DeviceInfo{
			Name: "usb-a", Location: "home", SecurityLevel: model.Local, DeviceType: "localdir",
		}
		err := reg.AddDevice(info, map[string]string{"passphrase": "hunter2"})
		if err == nil {
			t.Fatal("expected error for unknown device parameter")
		}
		if d, _ := reg.Device("usb-a"); d != nil {
			t.Errorf("device registered despite bad parameters: %+v", d)
		}
	})

	t.Run("remove unregisters the device", func(t *testing.T) {
		reg, path := newTestRegistry(t)
		info := model.DeviceInfo{
			Name: "usb-a", Location: "home", SecurityLevel: model.Local, DeviceType: "localdir",
		}
		if err := reg.AddDevice(info, map[string]string{"path": "/mnt/usb-a"}); err != nil {
			t.Fatalf("AddDevice() error = %v", err)
		}
		if err := reg.RemoveDevice("usb-a"); err != nil {
			t.Fatalf("RemoveDevice() error = %v", err)
		}

		reloaded, err := NewRegistry(path)
		if err != nil {
			t.Fatalf("NewRegistry() error = %v", err)
		}
		if d, _ := reloaded.Device("usb-a"); d != nil {
			t.Errorf("device still present after remove: %+v", d)
		}
	})
}

func TestRegistry_Projects(t *testing.T) {
	t.Run("round-trips tracking state", func(t *testing.T) {
		reg, path := newTestRegistry(t)

		project := model.Project{
			Name: "docs",
			Root: "/home/user/docs",
			Tracking: model.Tracking{
				Status:     model.StatusTracked,
				Class:      "standard",
				LastUpdate: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
				Copies: []model.ProjectCopy{
					{DeviceName: "usb-a", LastBackup: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)},
				},
			},
		}
		if err := reg.AddProject(project); err != nil {
			t.Fatalf("AddProject() error = %v", err)
		}

		reloaded, err := NewRegistry(path)
		if err != nil {
			t.Fatalf("NewRegistry() error = %v", err)
		}
		p, err := reloaded.Project("docs")
		if err != nil {
			t.Fatalf("Project() error = %v", err)
		}
		if p == nil {
			t.Fatal("project missing after reload")
		}
		if p.Tracking.Status != model.StatusTracked || p.Tracking.Class != "standard" {
			t.Errorf("tracking = %+v, want tracked under standard", p.Tracking)
		}
		if !p.Tracking.LastUpdate.Equal(project.Tracking.LastUpdate) {
			t.Errorf("LastUpdate = %v, want %v", p.Tracking.LastUpdate, project.Tracking.LastUpdate)
		}
		if len(p.Tracking.Copies) != 1 || p.Tracking.Copies[0].DeviceName != "usb-a" {
			t.Errorf("Copies = %+v, want one slot for usb-a", p.Tracking.Copies)
		}
	})

	t.Run("update replaces the entry", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		project := model.Project{
			Name:     "docs",
			Root:     "/home/user/docs",
			Tracking: model.TrackedSince("standard", time.Time{}),
		}
		if err := reg.AddProject(project); err != nil {
			t.Fatalf("AddProject() error = %v", err)
		}

		project.Tracking.Copies = []model.ProjectCopy{{DeviceName: "usb-a"}}
		if err := reg.UpdateProject(project); err != nil {
			t.Fatalf("UpdateProject() error = %v", err)
		}
		p, _ := reg.Project("docs")
		if len(p.Tracking.Copies) != 1 {
			t.Errorf("Copies = %+v, want one slot", p.Tracking.Copies)
		}
	})

	t.Run("unknown project reads as nil", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		p, err := reg.Project("ghost")
		if err != nil {
			t.Fatalf("Project() error = %v", err)
		}
		if p != nil {
			t.Errorf("Project() = %+v, want nil", p)
		}
	})
}

func TestRegistry_Classes(t *testing.T) {
	t.Run("default class is present", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		c, err := reg.Class("standard")
		if err != nil {
			t.Fatalf("Class() error = %v", err)
		}
		if c == nil {
			t.Fatal("standard class missing from a fresh config")
		}
		if c.TargetCopies != 3 || c.TargetLocations != 2 {
			t.Errorf("class = %+v, want 3 copies over 2 locations", c)
		}
	})

	t.Run("added classes survive a reload", func(t *testing.T) {
		reg, path := newTestRegistry(t)
		class, err := model.NewRequirementClass("archive", 2, 1, model.LocalMaxSecurity)
		if err != nil {
			t.Fatalf("NewRequirementClass() error = %v", err)
		}
		if err := reg.AddClass(class); err != nil {
			t.Fatalf("AddClass() error = %v", err)
		}

		reloaded, err := NewRegistry(path)
		if err != nil {
			t.Fatalf("NewRegistry() error = %v", err)
		}
		classes, err := reloaded.Classes()
		if err != nil {
			t.Fatalf("Classes() error = %v", err)
		}
		if len(classes) != 2 {
			t.Errorf("Classes() returned %d classes, want 2", len(classes))
		}
	})
}
