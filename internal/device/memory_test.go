package device

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"bkp-go/internal/bkp"
	"bkp-go/internal/index"
)

func connectMemory(t *testing.T) bkp.Connection {
	t.Helper()
	conn, err := NewMemoryDevice("mem-a").Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMemoryDevice_Connect(t *testing.T) {
	t.Run("unavailable device refuses connections", func(t *testing.T) {
		d := NewMemoryDevice("mem-a")
		d.Unavailable = true
		if _, err := d.Connect(context.Background()); err == nil {
			t.Fatal("Connect() expected error for unavailable device")
		}
	})

	t.Run("state is shared across connections", func(t *testing.T) {
		ctx := context.Background()
		d := NewMemoryDevice("mem-a")

		c1, err := d.Connect(ctx)
		if err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		if err := c1.Upload(ctx, "docs", "a.txt", strings.NewReader("x"), 1); err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
		c1.Close()

		c2, err := d.Connect(ctx)
		if err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		defer c2.Close()
		files, err := c2.ListFiles(ctx, "docs")
		if err != nil {
			t.Fatalf("ListFiles() error = %v", err)
		}
		if !reflect.DeepEqual(files, []string{"a.txt"}) {
			t.Errorf("ListFiles() = %v, want [a.txt]", files)
		}
	})
}

func TestMemoryConn_Content(t *testing.T) {
	ctx := context.Background()

	t.Run("upload download delete cycle", func(t *testing.T) {
		conn := connectMemory(t)

		content := "hello backup"
		if err := conn.Upload(ctx, "docs", "notes.txt", strings.NewReader(content), int64(len(content))); err != nil {
			t.Fatalf("Upload() error = %v", err)
		}

		var sb strings.Builder
		if err := conn.Download(ctx, "docs", "notes.txt", &sb); err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		if sb.String() != content {
			t.Errorf("Download() = %q, want %q", sb.String(), content)
		}

		if err := conn.Delete(ctx, "docs", "notes.txt"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if err := conn.Download(ctx, "docs", "notes.txt", &sb); err == nil {
			t.Fatal("Download() expected error after delete")
		}
	})

	t.Run("size mismatch fails the upload", func(t *testing.T) {
		conn := connectMemory(t)
		if err := conn.Upload(ctx, "docs", "a.txt", strings.NewReader("abc"), 99); err == nil {
			t.Fatal("Upload() expected error for size mismatch")
		}
	})

	t.Run("lists projects from content and manifests", func(t *testing.T) {
		conn := connectMemory(t)

		if err := conn.Upload(ctx, "photos", "a.jpg", strings.NewReader("x"), 1); err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
		if err := conn.WriteManifest(ctx, "docs", index.NewManifest()); err != nil {
			t.Fatalf("WriteManifest() error = %v", err)
		}

		projects, err := conn.ListProjects(ctx)
		if err != nil {
			t.Fatalf("ListProjects() error = %v", err)
		}
		if !reflect.DeepEqual(projects, []string{"docs", "photos"}) {
			t.Errorf("ListProjects() = %v, want [docs photos]", projects)
		}
	})
}

func TestMemoryConn_Log(t *testing.T) {
	ctx := context.Background()

	t.Run("round-trips the device log", func(t *testing.T) {
		conn := connectMemory(t)

		entries := []index.Entry{
			{
				StorageID:   "mem-a",
				Project:     "docs",
				Timestamp:   time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
				Origin:      "host-1",
				Event:       index.EventUploaded,
				Fingerprint: "abc123",
			},
		}
		if err := conn.WriteLog(ctx, entries); err != nil {
			t.Fatalf("WriteLog() error = %v", err)
		}

		got, err := conn.ReadLog(ctx)
		if err != nil {
			t.Fatalf("ReadLog() error = %v", err)
		}
		if len(got) != 1 || got[0].Identity() != entries[0].Identity() {
			t.Errorf("ReadLog() = %+v, want the written entry", got)
		}
	})

	t.Run("empty log reads as nil", func(t *testing.T) {
		conn := connectMemory(t)
		got, err := conn.ReadLog(ctx)
		if err != nil {
			t.Fatalf("ReadLog() error = %v", err)
		}
		if got != nil {
			t.Errorf("ReadLog() = %+v, want nil", got)
		}
	})
}
