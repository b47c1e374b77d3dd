package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"recon3d/internal/config"
	"recon3d/internal/device"
	"recon3d/internal/pointcloud"
	"recon3d/pkg/types"
)

func writeScene(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 100, 10))
		for y := 0; y < 10; y++ {
			for x := 0; x < 100; x++ {
				img.Set(x, y, color.RGBA{uint8(x), uint8(y * 20), uint8(i * 40), 255})
			}
		}
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("view%d.png", i)))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := png.Encode(f, img); err != nil {
			t.Fatalf("encode: %v", err)
		}
		f.Close()
	}
	return dir
}

// testApp returns an App with an isolated environment and a fixed probe.
func testApp(env map[string]string, report device.Report) (*App, *bytes.Buffer, *bytes.Buffer) {
	var out, errb bytes.Buffer
	return &App{
		Stdin:  strings.NewReader(""),
		Stdout: &out,
		Stderr: &errb,
		LookupEnv: func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		},
		Probe: func(context.Context, zerolog.Logger) device.Report { return report },
	}, &out, &errb
}

func TestVersion(t *testing.T) {
	app, out, _ := testApp(nil, device.Report{})
	if code := app.Execute(context.Background(), []string{"version"}); code != 0 {
		t.Fatalf("exit %d", code)
	}
	if got := out.String(); got != "recon3d dev\n" {
		t.Fatalf("version output %q", got)
	}
}

func TestRunSyntheticWritesCloud(t *testing.T) {
	src := writeScene(t, 2)
	outPath := filepath.Join(t.TempDir(), "scene.ply")
	app, out, errb := testApp(nil, device.Report{})
	code := app.Execute(context.Background(), []string{"run", "--backend", "synthetic", "-o", outPath, src})
	if code != 0 {
		t.Fatalf("exit %d, stderr: %s", code, errb.String())
	}
	if want := "Point cloud saved to " + outPath + "\n"; out.String() != want {
		t.Fatalf("stdout %q, want %q", out.String(), want)
	}
	pts, err := pointcloud.Read(outPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if want := 2 * 56 * 518; len(pts) != want {
		t.Fatalf("points %d, want %d", len(pts), want)
	}
	if !strings.Contains(errb.String(), "device selected") {
		t.Fatalf("expected device selection log, got %s", errb.String())
	}
}

func TestRunTrackWithQueries(t *testing.T) {
	src := writeScene(t, 3)
	outPath := filepath.Join(t.TempDir(), "scene.xyz")
	app, _, errb := testApp(nil, device.Report{})
	args := []string{"run", "--backend", "synthetic", "--source-dir", src, "-o", outPath, "--query", "10:5,50:20", "--log-format", "json"}
	if code := app.Execute(context.Background(), args); code != 0 {
		t.Fatalf("exit %d, stderr: %s", code, errb.String())
	}
	if !strings.Contains(errb.String(), `"tracked_queries":2`) {
		t.Fatalf("expected tracked_queries in log: %s", errb.String())
	}
}

func TestRunQueryOutOfBounds(t *testing.T) {
	src := writeScene(t, 1)
	outPath := filepath.Join(t.TempDir(), "scene.ply")
	app, _, errb := testApp(nil, device.Report{})
	code := app.Execute(context.Background(), []string{"run", "--backend", "synthetic", "-o", outPath, "--query", "600:5", src})
	if code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
	if !strings.Contains(errb.String(), "outside image bounds") {
		t.Fatalf("stderr %q", errb.String())
	}
	if _, err := os.Stat(outPath); !os.IsNotExist(err) {
		t.Fatalf("no output expected, stat err=%v", err)
	}
}

func TestRunRequiresSourceDir(t *testing.T) {
	app, _, errb := testApp(nil, device.Report{})
	if code := app.Execute(context.Background(), []string{"run", "--backend", "synthetic"}); code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
	if !strings.Contains(errb.String(), "source directory is required") {
		t.Fatalf("stderr %q", errb.String())
	}
}

func TestRunEmptyDirectory(t *testing.T) {
	app, _, errb := testApp(nil, device.Report{})
	code := app.Execute(context.Background(), []string{"run", "--backend", "synthetic", "-o", filepath.Join(t.TempDir(), "x.ply"), t.TempDir()})
	if code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
	if !strings.Contains(errb.String(), "at least 1 image is required") {
		t.Fatalf("stderr %q", errb.String())
	}
}

func TestRunONNXNeedsModelSource(t *testing.T) {
	src := writeScene(t, 1)
	app, _, errb := testApp(nil, device.Report{})
	code := app.Execute(context.Background(), []string{"run", "-o", filepath.Join(t.TempDir(), "x.ply"), src})
	if code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
	if !strings.Contains(errb.String(), "requires weights_dir") {
		t.Fatalf("stderr %q", errb.String())
	}
}

func TestRunInvalidConfig(t *testing.T) {
	cases := [][]string{
		{"run", "--device", "tpu", "x"},
		{"run", "--precision", "int8", "x"},
		{"run", "--backend", "remote", "x"},
		{"run", "-o", "out.obj", "x"},
		{"run", "--log-level", "loud", "x"},
	}
	for _, args := range cases {
		app, _, errb := testApp(nil, device.Report{})
		if code := app.Execute(context.Background(), args); code != 1 {
			t.Fatalf("%v: exit %d, want 1", args, code)
		}
		if !strings.Contains(errb.String(), "invalid config") {
			t.Fatalf("%v: stderr %q", args, errb.String())
		}
	}
}

func TestConfigFileEnvAndFlagLayering(t *testing.T) {
	src := writeScene(t, 1)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "recon3d.yaml")
	fileOut := filepath.Join(dir, "from-file.ply")
	envOut := filepath.Join(dir, "from-env.xyz")
	yaml := fmt.Sprintf("source_dir: %q\noutput_path: %q\nbackend: synthetic\n", src, fileOut)
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	// file only
	app, out, errb := testApp(nil, device.Report{})
	if code := app.Execute(context.Background(), []string{"run", "-c", cfgPath}); code != 0 {
		t.Fatalf("exit %d: %s", code, errb.String())
	}
	if !strings.Contains(out.String(), fileOut) {
		t.Fatalf("stdout %q", out.String())
	}

	// env beats file
	app, out, errb = testApp(map[string]string{"RECON3D_OUTPUT_PATH": envOut}, device.Report{})
	if code := app.Execute(context.Background(), []string{"run", "-c", cfgPath}); code != 0 {
		t.Fatalf("exit %d: %s", code, errb.String())
	}
	if !strings.Contains(out.String(), envOut) {
		t.Fatalf("stdout %q", out.String())
	}

	// flag beats env
	flagOut := filepath.Join(dir, "from-flag.ply")
	app, out, errb = testApp(map[string]string{"RECON3D_OUTPUT_PATH": envOut}, device.Report{})
	if code := app.Execute(context.Background(), []string{"run", "-c", cfgPath, "-o", flagOut}); code != 0 {
		t.Fatalf("exit %d: %s", code, errb.String())
	}
	if !strings.Contains(out.String(), flagOut) {
		t.Fatalf("stdout %q", out.String())
	}
}

func TestDebugPauseReadsStdin(t *testing.T) {
	src := writeScene(t, 1)
	app, _, errb := testApp(nil, device.Report{})
	app.Stdin = strings.NewReader(strings.Repeat("\n", 10))
	args := []string{"run", "--backend", "synthetic", "--debug-pause", "-o", filepath.Join(t.TempDir(), "p.ply"), src}
	if code := app.Execute(context.Background(), args); code != 0 {
		t.Fatalf("exit %d: %s", code, errb.String())
	}
	if n := strings.Count(errb.String(), "press Enter to continue"); n != 7 {
		t.Fatalf("pauses %d, want 7 (one per non-optional stage)", n)
	}
}

func TestDeviceCommand(t *testing.T) {
	cases := []struct {
		name   string
		report device.Report
		args   []string
		want   []string
	}{
		{"cpu", device.Report{}, nil, []string{"accelerator: none", "device: cpu", "dtype: float16"}},
		{"ampere", device.Report{Accelerator: true, Name: "A100", ComputeMajor: 8}, nil, []string{"A100 (compute 8.0)", "device: cuda", "dtype: bfloat16"}},
		{"turing", device.Report{Accelerator: true, Name: "T4", ComputeMajor: 7, ComputeMinor: 5}, nil, []string{"device: cuda", "dtype: float16"}},
		{"override", device.Report{Accelerator: true, Name: "A100", ComputeMajor: 8}, []string{"--device", "cpu", "--precision", "float32"}, []string{"device: cpu", "dtype: float32"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app, out, errb := testApp(nil, tc.report)
			if code := app.Execute(context.Background(), append([]string{"device"}, tc.args...)); code != 0 {
				t.Fatalf("exit %d: %s", code, errb.String())
			}
			for _, w := range tc.want {
				if !strings.Contains(out.String(), w) {
					t.Fatalf("output %q missing %q", out.String(), w)
				}
			}
		})
	}
}

func TestCompletion(t *testing.T) {
	app, out, _ := testApp(nil, device.Report{})
	if code := app.Execute(context.Background(), []string{"completion", "bash"}); code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(out.String(), "recon3d") {
		t.Fatal("bash completion should mention the program")
	}
}

func TestServeReconstructAndShutdown(t *testing.T) {
	root := t.TempDir()
	src := writeScene(t, 2)
	if err := os.Rename(src, filepath.Join(root, "scene")); err != nil {
		t.Fatal(err)
	}
	app, _, errb := testApp(nil, device.Report{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadForTest(app, []string{"RECON3D_BACKEND=synthetic", "RECON3D_SERVE_ROOT=" + root})
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- app.serve(ctx, cfg, ln) }()

	base := "http://" + ln.Addr().String()
	waitReady(t, base)

	body := strings.NewReader(`{"source_dir":"scene","output_path":"scene/out.ply"}`)
	resp, err := http.Post(base+"/reconstruct", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, stderr: %s", resp.StatusCode, errb.String())
	}
	var rr types.ReconstructResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		t.Fatal(err)
	}
	if rr.Points != 2*56*518 || rr.Views != 2 {
		t.Fatalf("response %+v", rr)
	}
	if _, err := os.Stat(filepath.Join(root, "scene", "out.ply")); err != nil {
		t.Fatalf("expected cloud under serve root: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

// loadForTest resolves a config from KEY=VALUE environment pairs only.
func loadForTest(app *App, kv []string) (config.Config, error) {
	env := map[string]string{}
	for _, p := range kv {
		k, v, _ := strings.Cut(p, "=")
		env[k] = v
	}
	app.LookupEnv = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cmd := app.versionCmd()
	if err := cmd.ParseFlags(nil); err != nil {
		return config.Config{}, err
	}
	return app.loadConfig(cmd, &globalFlags{}, nil)
}

func waitReady(t *testing.T, base string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/readyz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("server never became ready")
}
