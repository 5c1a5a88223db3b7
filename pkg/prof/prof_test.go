//go:build profile

package prof

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSession(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{CPU: filepath.Join(dir, "cpu.prof"), Heap: filepath.Join(dir, "heap.prof")}

	s, err := Start(cfg)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := Start(cfg); err == nil {
		t.Error("second Start() error = nil, want error")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}

	for _, path := range []string{cfg.CPU, cfg.Heap} {
		fi, err := os.Stat(path)
		if err != nil {
			t.Fatalf("Stat(%s) error = %v", path, err)
		}
		if fi.Size() == 0 {
			t.Errorf("%s is empty", path)
		}
	}

	if _, err := Samples(cfg.Heap); err != nil {
		t.Errorf("Samples(heap) error = %v", err)
	}
	if _, err := Samples(filepath.Join(dir, "missing")); err == nil {
		t.Error("Samples(missing) error = nil, want error")
	}

	again, err := Start(Config{})
	if err != nil {
		t.Fatalf("Start() after Stop() error = %v", err)
	}
	again.Stop()
}
