package e2e

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"recon3d/internal/device"
	"recon3d/internal/httpapi"
	"recon3d/internal/model"
	"recon3d/internal/pipeline"
)

// writeScene creates root/name holding n 100x10 PNG views.
func writeScene(t *testing.T, root, name string, n int) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for i := 0; i < n; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 100, 10))
		for y := 0; y < 10; y++ {
			for x := 0; x < 100; x++ {
				img.Set(x, y, color.RGBA{uint8(2 * x), uint8(20 * y), uint8(50 * i), 255})
			}
		}
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%03d.png", i)))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := png.Encode(f, img); err != nil {
			t.Fatalf("encode: %v", err)
		}
		f.Close()
	}
}

// newServer starts a synthetic-backend server rooted at root.
func newServer(t *testing.T, root string, inspector pipeline.Inspector) (*httptest.Server, *pipeline.Runner) {
	t.Helper()
	report := device.Report{}
	runner, err := pipeline.NewRunner(pipeline.Options{
		Backend:   model.NewSyntheticBackend(model.SyntheticOptions{}),
		Selection: device.Select(report, device.Overrides{}),
		Inspector: inspector,
	})
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	t.Cleanup(func() { runner.Close() })
	srv := httptest.NewServer(httpapi.NewMux(&pipeline.Service{Runner: runner, Report: report, Root: root}))
	t.Cleanup(srv.Close)
	return srv, runner
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewBufferString(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}
