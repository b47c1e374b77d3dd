package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"recon3d/internal/device"
	"recon3d/pkg/types"
)

func TestService_Reconstruct(t *testing.T) {
	root := t.TempDir()
	scene := filepath.Join(root, "scene")
	if err := os.Mkdir(scene, 0o755); err != nil {
		t.Fatal(err)
	}
	writePNG(t, scene, "a.png", 100, 10)
	writePNG(t, scene, "b.png", 100, 10)

	svc := &Service{Runner: newRunner(t, newHookBackend(), nil), Root: root}
	resp, err := svc.Reconstruct(context.Background(), types.ReconstructRequest{
		SourceDir: "scene",
		Track:     true,
		Queries:   []types.QueryPoint{{X: 10, Y: 20}},
	})
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if resp.OutputPath != "scene.ply" || resp.Points != 2*518*56 || resp.Views != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if _, err := os.Stat(filepath.Join(root, "scene.ply")); err != nil {
		t.Fatalf("output not under root: %v", err)
	}
	if len(resp.Cameras) != 2 || len(resp.Tracks) != 1 || len(resp.Tracks[0].Positions) != 2 {
		t.Fatalf("cameras/tracks: %+v", resp)
	}
	if p := resp.Tracks[0].Positions[0]; p[0] < 9.99 || p[0] > 10.01 || p[1] < 19.99 || p[1] > 20.01 {
		t.Fatalf("first-view track %v", p)
	}
	if _, ok := resp.StageMS[StageSave]; !ok {
		t.Fatalf("missing save duration: %v", resp.StageMS)
	}
}

func TestService_BadRequest(t *testing.T) {
	svc := &Service{Runner: newRunner(t, newHookBackend(), nil), Root: t.TempDir()}
	for _, req := range []types.ReconstructRequest{
		{},
		{SourceDir: "  "},
		{SourceDir: "scene", OutputPath: "scene/out.obj"},
	} {
		if _, err := svc.Reconstruct(context.Background(), req); !IsBadRequest(err) {
			t.Fatalf("%+v: expected bad request, got %v", req, err)
		}
	}
}

func TestService_RepeatedRunsWithDefaultOutput(t *testing.T) {
	root := t.TempDir()
	scene := filepath.Join(root, "scene")
	if err := os.Mkdir(scene, 0o755); err != nil {
		t.Fatal(err)
	}
	writePNG(t, scene, "a.png", 100, 10)
	svc := &Service{Runner: newRunner(t, newHookBackend(), nil), Root: root}
	for i := 0; i < 2; i++ {
		resp, err := svc.Reconstruct(context.Background(), types.ReconstructRequest{SourceDir: "scene"})
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if resp.Views != 1 {
			t.Fatalf("run %d: views %d", i, resp.Views)
		}
	}
	entries, err := os.ReadDir(scene)
	if err != nil || len(entries) != 1 {
		t.Fatalf("source dir should hold only the input image: %v %v", entries, err)
	}
}

func TestDefaultOutput(t *testing.T) {
	for in, want := range map[string]string{
		"scene":         "scene.ply",
		"scenes/a/":     filepath.FromSlash("scenes/a.ply"),
		".":             "output.ply",
		"/":             "output.ply",
		"/data/kitchen": filepath.FromSlash("/data/kitchen.ply"),
	} {
		if got := defaultOutput(filepath.FromSlash(in)); got != want {
			t.Errorf("defaultOutput(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestService_PathsStayUnderRoot(t *testing.T) {
	svc := &Service{Root: "/srv/data"}
	for in, want := range map[string]string{
		"scene":          "/srv/data/scene",
		"../../etc":      "/srv/data/etc",
		"/abs/elsewhere": "/srv/data/abs/elsewhere",
		"a/../b":         "/srv/data/b",
	} {
		if got := svc.under(in); got != filepath.FromSlash(want) {
			t.Errorf("under(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestService_Device(t *testing.T) {
	r := newRunner(t, newHookBackend(), func(o *Options) {
		o.Selection = device.Select(device.Report{Accelerator: true, ComputeMajor: 8, ComputeMinor: 6}, device.Overrides{})
	})
	svc := &Service{Runner: r, Report: device.Report{Accelerator: true, Name: "GPU", ComputeMajor: 8, ComputeMinor: 6}}
	d := svc.Device()
	if d.Device != "cuda" || d.Dtype != "bfloat16" || d.Capability != "8.6" || d.Backend != "synthetic" {
		t.Fatalf("unexpected device response %+v", d)
	}
	if svc.Ready() {
		t.Fatal("ready before warm")
	}
}
