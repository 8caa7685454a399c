package proxycfg_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkowalski/relaytap/internal/proxycfg"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := proxycfg.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 3456 {
		t.Fatalf("port = %d, want default", cfg.Port)
	}
	if cfg.Verbose {
		t.Fatal("verbose should default to false")
	}
}

func TestLoad_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: 8080\ndataDir: /tmp/relaytap\nverbose: true\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := proxycfg.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8080 || cfg.DataDir != "/tmp/relaytap" || !cfg.Verbose {
		t.Fatalf("got %+v", cfg)
	}
}

func TestLoad_InvalidPortRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: 99999\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := proxycfg.Load(path); err == nil {
		t.Fatal("expected an error for an out-of-range port")
	}
}

func TestLoad_MalformedYAMLRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: [this is not an int\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := proxycfg.Load(path); err == nil {
		t.Fatal("expected an error for malformed YAML")
	}
}

func TestWatcher_FiresOnRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: 3456\nverbose: false\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	changes := make(chan bool, 4)
	w, err := proxycfg.NewWatcher(path, nil, func(verbose bool) { changes <- verbose })
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("port: 3456\nverbose: true\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case v := <-changes:
		if !v {
			t.Fatal("expected verbose=true after rewrite")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watcher callback")
	}
}
