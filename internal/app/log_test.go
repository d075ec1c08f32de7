package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBkpHandler_Handle(t *testing.T) {
	ts := time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC)

	tests := []struct {
		name   string
		level  slog.Level
		msg    string
		attrs  []slog.Attr
		want   string
	}{
		{
			name:  "plain message",
			level: slog.LevelInfo,
			msg:   "backup started",
			want:  "2025-03-10T08:30:00Z\tINFO\top-1\tbackup started\n",
		},
		{
			name:  "message with attrs",
			level: slog.LevelWarn,
			msg:   "device slow",
			attrs: []slog.Attr{slog.String("device", "usb-a"), slog.Int("files", 12)},
			want:  "2025-03-10T08:30:00Z\tWARN\top-1\tdevice slow\tdevice=usb-a\tfiles=12\n",
		},
		{
			name:  "error level",
			level: slog.LevelError,
			msg:   "upload failed",
			attrs: []slog.Attr{slog.String("path", "docs/a.txt")},
			want:  "2025-03-10T08:30:00Z\tERROR\top-1\tupload failed\tpath=docs/a.txt\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sb strings.Builder
			h := &bkpHandler{w: &sb, opID: "op-1"}

			r := slog.NewRecord(ts, tt.level, tt.msg, 0)
			r.AddAttrs(tt.attrs...)
			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if sb.String() != tt.want {
				t.Errorf("Handle() wrote %q, want %q", sb.String(), tt.want)
			}
		})
	}
}

func TestBkpHandler_WithAttrs(t *testing.T) {
	var sb strings.Builder
	base := &bkpHandler{w: &sb, opID: "op-1"}

	derived := base.WithAttrs([]slog.Attr{slog.String("project", "docs")})

	r := slog.NewRecord(time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC), slog.LevelInfo, "scanning", 0)
	if err := derived.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	want := "2025-03-10T08:30:00Z\tINFO\top-1\tscanning\tproject=docs\n"
	if sb.String() != want {
		t.Errorf("Handle() wrote %q, want %q", sb.String(), want)
	}

	// The base handler must not pick up the derived attrs.
	sb.Reset()
	if err := base.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if strings.Contains(sb.String(), "project=docs") {
		t.Errorf("base handler leaked derived attrs: %q", sb.String())
	}
}

func TestBkpHandler_Enabled(t *testing.T) {
	h := &bkpHandler{w: os.Stderr, opID: "op-1"}
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if !h.Enabled(context.Background(), level) {
			t.Errorf("Enabled(%v) = false, want true", level)
		}
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("creates the log file", func(t *testing.T) {
		logDir := filepath.Join(t.TempDir(), "log")

		logger, f, err := newLogger(logDir, "op-1")
		if err != nil {
			t.Fatalf("newLogger() error = %v", err)
		}
		defer f.Close()

		logger.Info("hello")

		data, err := os.ReadFile(filepath.Join(logDir, "bkp.log"))
		if err != nil {
			t.Fatalf("reading log file: %v", err)
		}
		if !strings.Contains(string(data), "\tINFO\top-1\thello") {
			t.Errorf("log file content = %q, want it to contain the record", data)
		}
	})

	t.Run("appends across loggers", func(t *testing.T) {
		logDir := t.TempDir()

		l1, f1, err := newLogger(logDir, "op-1")
		if err != nil {
			t.Fatalf("newLogger() error = %v", err)
		}
		l1.Info("first")
		f1.Close()

		l2, f2, err := newLogger(logDir, "op-2")
		if err != nil {
			t.Fatalf("newLogger() error = %v", err)
		}
		l2.Info("second")
		f2.Close()

		data, err := os.ReadFile(filepath.Join(logDir, "bkp.log"))
		if err != nil {
			t.Fatalf("reading log file: %v", err)
		}
		if !strings.Contains(string(data), "first") || !strings.Contains(string(data), "second") {
			t.Errorf("log file content = %q, want both records", data)
		}
	})
}
