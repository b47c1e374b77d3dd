package config

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"recon3d/internal/device"
	"recon3d/internal/model"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	if cfg.OutputPath != "output.ply" || cfg.Backend != "onnx" || cfg.ModelID != "" || cfg.PreprocessMode != "crop" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	kept := Config{OutputPath: "a.xyz", Backend: "synthetic"}.WithDefaults()
	if kept.OutputPath != "a.xyz" || kept.Backend != "synthetic" {
		t.Fatalf("defaults overwrote explicit values: %+v", kept)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Config{SourceDir: "from-file", Device: "cuda"}
	err := cfg.ApplyEnv(envMap(map[string]string{
		"RECON3D_SOURCE_DIR":    "/env/images",
		"RECON3D_PRECISION":     "fp16",
		"RECON3D_OFFLINE":       "true",
		"RECON3D_ONNX_THREADS":  "8",
		"RECON3D_CORS_ORIGINS":  "http://a, http://b,",
		"RECON3D_TRACK_QUERIES": "100:200, 60.72:259.94",
	}))
	if err != nil {
		t.Fatalf("apply env: %v", err)
	}
	want := Config{
		SourceDir:    "/env/images",
		Device:       "cuda",
		Precision:    "fp16",
		Offline:      true,
		ONNXThreads:  8,
		CORSOrigins:  []string{"http://a", "http://b"},
		TrackQueries: []model.Query{{X: 100, Y: 200}, {X: 60.72, Y: 259.94}},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyEnv_Errors(t *testing.T) {
	var cfg Config
	err := cfg.ApplyEnv(envMap(map[string]string{
		"RECON3D_OFFLINE":       "maybe",
		"RECON3D_ONNX_THREADS":  "many",
		"RECON3D_TRACK_QUERIES": "1;2",
	}))
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, name := range []string{"RECON3D_OFFLINE", "RECON3D_ONNX_THREADS", "RECON3D_TRACK_QUERIES"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error does not mention %s: %v", name, err)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Config)
		want string
	}{
		{"device", func(c *Config) { c.Device = "tpu" }, "unknown device"},
		{"precision", func(c *Config) { c.Precision = "int8" }, "unknown precision"},
		{"backend", func(c *Config) { c.Backend = "torch" }, "unknown backend"},
		{"remote url", func(c *Config) { c.Backend = "remote" }, "remote_url"},
		{"mode", func(c *Config) { c.PreprocessMode = "stretch" }, "preprocess_mode"},
		{"output", func(c *Config) { c.OutputPath = "cloud.obj" }, "obj"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"timeout", func(c *Config) { c.RequestTimeout = "-1s" }, "request_timeout"},
		{"threads", func(c *Config) { c.ONNXThreads = -2 }, "onnx_threads"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{}.WithDefaults()
			tc.mod(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestOverridesAndTimeout(t *testing.T) {
	cfg := Config{Device: "gpu", Precision: "bf16", RequestTimeout: "30s"}
	o := cfg.Overrides()
	if o.Device != device.CUDA || o.Precision != device.BFloat16 {
		t.Fatalf("unexpected overrides %+v", o)
	}
	if cfg.Timeout() != 30*time.Second {
		t.Fatalf("timeout %v", cfg.Timeout())
	}
	if (Config{RequestTimeout: "junk"}).Timeout() != 10*time.Minute {
		t.Fatal("invalid timeout should fall back to the default")
	}
}

func TestParseQueries(t *testing.T) {
	qs, err := ParseQueries(" 1:2 ,3.5:-4")
	if err != nil || len(qs) != 2 || qs[1] != (model.Query{X: 3.5, Y: -4}) {
		t.Fatalf("parse: %v %v", qs, err)
	}
	for _, bad := range []string{"1", "a:2", "1:b"} {
		if _, err := ParseQueries(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestSplitCSV(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b , c ", []string{"a", "b", "c"}},
		{"a,,c", []string{"a", "c"}},
		{"", nil},
	}
	for _, c := range cases {
		if diff := cmp.Diff(c.want, SplitCSV(c.in)); diff != "" {
			t.Fatalf("SplitCSV(%q) mismatch (-want +got):\n%s", c.in, diff)
		}
	}
}

func TestCheckModelSource(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"onnx without source", Config{Backend: "onnx"}, false},
		{"onnx with weights dir", Config{Backend: "onnx", WeightsDir: "/models/vggt"}, true},
		{"onnx with model id", Config{Backend: "onnx", ModelID: "acme/vggt-onnx"}, true},
		{"synthetic", Config{Backend: "synthetic"}, true},
		{"remote", Config{Backend: "remote", RemoteURL: "http://gpu:9000"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.WithDefaults().CheckModelSource()
			if (err == nil) != tc.ok {
				t.Fatalf("CheckModelSource() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}
