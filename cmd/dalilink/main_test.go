package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("DALILINK_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// writeSimConfig writes a config that boots the service in simulation
// mode with MQTT and InfluxDB disabled, rooted in tmpDir.
func writeSimConfig(t *testing.T, tmpDir string) {
	t.Helper()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := fmt.Sprintf(`
site:
  id: test-site

directory:
  path: %q
  reload_poll_seconds: 1

ble:
  force_simulation: true
  scan_seconds: 1
  connect_timeout_seconds: 1

relay:
  enabled: false

database:
  path: %q
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: json
  output: stderr

performance:
  report_interval_seconds: 0
`,
		filepath.Join(tmpDir, "devices.json"),
		filepath.Join(tmpDir, "dalilink.db"),
	)

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("DALILINK_CONFIG", configPath)
}

// TestRun_SimulatedStartup boots the full service in simulation mode,
// then shuts it down via context cancellation. Exercises the wiring
// end to end without hardware.
func TestRun_SimulatedStartup(t *testing.T) {
	tmpDir := t.TempDir()
	writeSimConfig(t, tmpDir)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() failed in simulation mode: %v", err)
	}

	// The default directory should have been created on first start.
	if _, err := os.Stat(filepath.Join(tmpDir, "devices.json")); err != nil {
		t.Errorf("expected default directory file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "dalilink.db")); err != nil {
		t.Errorf("expected database file: %v", err)
	}
}

// TestRun_CorruptDirectoryStillBoots verifies a broken directory file
// degrades to the default document instead of aborting startup.
func TestRun_CorruptDirectoryStillBoots(t *testing.T) {
	tmpDir := t.TempDir()
	writeSimConfig(t, tmpDir)

	if err := os.WriteFile(filepath.Join(tmpDir, "devices.json"), []byte(`{{{`), 0600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() failed on a corrupt directory file: %v", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("DALILINK_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("DALILINK_CONFIG", "/etc/dalilink/config.yaml")
	if got := getConfigPath(); got != "/etc/dalilink/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env override", got)
	}
}

func TestParseBrightness(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    int
		wantErr bool
	}{
		{"json object", `{"brightness": 60}`, 60, false},
		{"json zero", `{"brightness": 0}`, 0, false},
		{"bare integer", "75", 75, false},
		{"bare integer padded", "  100\n", 100, false},
		{"missing field", `{"level": 60}`, 0, true},
		{"above range", `{"brightness": 101}`, 0, true},
		{"below range", "-1", 0, true},
		{"garbage", "bright", 0, true},
		{"malformed json", `{"brightness":`, 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseBrightness([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseBrightness(%q) expected error, got %d", tt.payload, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseBrightness(%q) unexpected error: %v", tt.payload, err)
			}
			if got != tt.want {
				t.Errorf("parseBrightness(%q) = %d, want %d", tt.payload, got, tt.want)
			}
		})
	}
}

func TestLastSegment(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"dalilink/command/device/DALLA1", "DALLA1"},
		{"dalilink/command/group/G1", "G1"},
		{"DALLA1", "DALLA1"},
		{"dalilink/command/device/", ""},
	}

	for _, tt := range tests {
		if got := lastSegment(tt.topic); got != tt.want {
			t.Errorf("lastSegment(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}
