package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"recon3d/internal/imageio"
	"recon3d/internal/model"
	"recon3d/internal/pipeline"
	"recon3d/internal/weights"
	"recon3d/pkg/types"
)

type mockService struct {
	ready  bool
	err    error
	got    types.ReconstructRequest
	device types.DeviceResponse
}

func (m *mockService) Ready() bool                  { return m.ready }
func (m *mockService) Device() types.DeviceResponse { return m.device }
func (m *mockService) Reconstruct(ctx context.Context, req types.ReconstructRequest) (types.ReconstructResponse, error) {
	m.got = req
	if m.err != nil {
		return types.ReconstructResponse{}, m.err
	}
	return types.ReconstructResponse{RunID: "r1", OutputPath: req.OutputPath, Points: 42, Views: 1}, nil
}

type mockHTTPError struct {
	msg  string
	code int
}

func (e mockHTTPError) Error() string   { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }

func postJSON(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/reconstruct", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestReconstruct_OK(t *testing.T) {
	svc := &mockService{}
	w := postJSON(NewMux(svc), `{"source_dir":"scene","output_path":"o.ply","track":true,"queries":[{"x":1,"y":2}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp types.ReconstructResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Points != 42 || resp.OutputPath != "o.ply" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if svc.got.SourceDir != "scene" || !svc.got.Track || len(svc.got.Queries) != 1 {
		t.Fatalf("request not forwarded: %+v", svc.got)
	}
}

func TestReconstruct_RequestValidation(t *testing.T) {
	h := NewMux(&mockService{})
	cases := []struct {
		name, ct, body string
		want           int
	}{
		{"no content type", "", `{"source_dir":"x"}`, http.StatusUnsupportedMediaType},
		{"bad json", "application/json", `{"source_dir":`, http.StatusBadRequest},
		{"unknown field", "application/json", `{"source_dir":"x","prompt":"hi"}`, http.StatusBadRequest},
		{"missing source", "application/json", `{"output_path":"o.ply"}`, http.StatusBadRequest},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/reconstruct", strings.NewReader(c.body))
			if c.ct != "" {
				req.Header.Set("Content-Type", c.ct)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != c.want {
				t.Fatalf("status=%d want %d body=%s", w.Code, c.want, w.Body.String())
			}
			var e types.ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil || e.Code != c.want {
				t.Fatalf("error payload %q: %v", w.Body.String(), err)
			}
		})
	}
}

func TestReconstruct_BodyLimit(t *testing.T) {
	SetMaxBodyBytes(16)
	defer SetMaxBodyBytes(0)
	w := postJSON(NewMux(&mockService{}), `{"source_dir":"`+strings.Repeat("a", 64)+`"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestReconstruct_ErrorMapping(t *testing.T) {
	notImage := filepath.Join(t.TempDir(), "output.ply")
	if err := os.WriteFile(notImage, []byte("ply\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, decodeErr := imageio.LoadAndPreprocess([]string{notImage}, imageio.ModeCrop)
	if decodeErr == nil {
		t.Fatal("expected a decode error")
	}
	cases := []struct {
		err  error
		want int
	}{
		{pipeline.ErrBusy, http.StatusTooManyRequests},
		{&pipeline.StageError{Stage: "load_images", Err: pipeline.ErrQueryOutOfBounds(0, -1, 0, 518, 518)}, http.StatusBadRequest},
		{&pipeline.StageError{Stage: "load_images", Err: imageio.ErrNoImages}, http.StatusBadRequest},
		{&pipeline.StageError{Stage: "load_images", Err: decodeErr}, http.StatusBadRequest},
		{weights.ErrWeightsUnavailable("o/n", "x.onnx", nil), http.StatusServiceUnavailable},
		{fmt.Errorf("open: %w", model.ErrDependencyUnavailable("onnx not built")), http.StatusServiceUnavailable},
		{&pipeline.StageError{Stage: "depth", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{mockHTTPError{msg: "teapot", code: http.StatusTeapot}, http.StatusTeapot},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		w := postJSON(NewMux(&mockService{err: c.err}), `{"source_dir":"x"}`)
		if w.Code != c.want {
			t.Errorf("%v: status=%d want %d", c.err, w.Code, c.want)
		}
		if !strings.Contains(w.Body.String(), c.err.Error()) {
			t.Errorf("%v: body %q does not carry the error", c.err, w.Body.String())
		}
	}
}

func TestDeviceHandler(t *testing.T) {
	svc := &mockService{device: types.DeviceResponse{Device: "cpu", Dtype: "float16", Backend: "synthetic"}}
	w := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/device", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%s", ct)
	}
	var body types.DeviceResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body != svc.device {
		t.Fatalf("body %+v err %v", body, err)
	}
}

func TestHealthz(t *testing.T) {
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestReadyz(t *testing.T) {
	w := httptest.NewRecorder()
	NewMux(&mockService{ready: true}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestReadyz_NotReady(t *testing.T) {
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "loading") {
		t.Fatalf("body=%q", w.Body.String())
	}
}

func TestSecurityHeader(t *testing.T) {
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing nosniff header")
	}
}

func TestCORS_Preflight(t *testing.T) {
	SetCORSOptions(true, []string{"http://localhost:3000"}, nil, nil)
	defer SetCORSOptions(false, nil, nil, nil)
	req := httptest.NewRequest(http.MethodOptions, "/reconstruct", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allow-origin=%q status=%d", got, w.Code)
	}
}

func TestCORS_DisabledByDefault(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
}

func TestReconstruct_ClientGoneWritesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/reconstruct", bytes.NewBufferString(`{"source_dir":"x"}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	NewMux(&mockService{err: context.Canceled}).ServeHTTP(w, req)
	if w.Body.Len() != 0 {
		t.Fatalf("expected no body after client cancel, got %q", w.Body.String())
	}
}
