package config

import (
	"os"
	"path/filepath"
	"testing"

	"recon3d/internal/model"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", `source_dir: examples/kitchen
output_path: out/cloud.ply
device: cpu
precision: fp32
backend: synthetic
track: true
track_queries:
  - {x: 100, y: 200}
  - {x: 60.72, y: 259.94}
cors_origins: ["http://localhost:3000"]
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SourceDir != "examples/kitchen" || cfg.OutputPath != "out/cloud.ply" || cfg.Device != "cpu" || cfg.Precision != "fp32" || cfg.Backend != "synthetic" || !cfg.Track {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if len(cfg.TrackQueries) != 2 || cfg.TrackQueries[1] != (model.Query{X: 60.72, Y: 259.94}) {
		t.Fatalf("unexpected queries: %+v", cfg.TrackQueries)
	}
	if len(cfg.CORSOrigins) != 1 {
		t.Fatalf("unexpected cors origins: %v", cfg.CORSOrigins)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"source_dir":"/imgs","output_path":"c.xyz","device":"cuda","precision":"bf16","offline":true,"track_queries":[{"x":1,"y":2}]}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SourceDir != "/imgs" || cfg.OutputPath != "c.xyz" || cfg.Device != "cuda" || cfg.Precision != "bf16" || !cfg.Offline || len(cfg.TrackQueries) != 1 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "source_dir=\"/x\"\noutput_path=\"o.ply\"\nonnx_threads=4\ndebug_pause=true\n[[track_queries]]\nx=3.5\ny=4\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SourceDir != "/x" || cfg.OutputPath != "o.ply" || cfg.ONNXThreads != 4 || !cfg.DebugPause {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if len(cfg.TrackQueries) != 1 || cfg.TrackQueries[0].X != 3.5 {
		t.Fatalf("unexpected queries: %+v", cfg.TrackQueries)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
}
