package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{"": LevelOff, "off": LevelOff, "error": LevelError, "info": LevelInfo, "debug": LevelDebug, "weird": LevelInfo}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestRequestLogLevel_Overrides(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/reconstruct?log=1", nil)
	if requestLogLevel(r) != LevelDebug {
		t.Fatal("?log=1 should enable debug")
	}
	r = httptest.NewRequest(http.MethodGet, "/reconstruct", nil)
	r.Header.Set("X-Log-Level", "off")
	if requestLogLevel(r) != LevelOff {
		t.Fatal("header override ignored")
	}
}

func TestReconstruct_LogsStartAndEnd(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))
	defer SetLogger(zerolog.Nop())
	req := httptest.NewRequest(http.MethodPost, "/reconstruct?log=info", strings.NewReader(`{"source_dir":"scene"}`))
	req.Header.Set("Content-Type", "application/json")
	NewMux(&mockService{}).ServeHTTP(httptest.NewRecorder(), req)
	out := buf.String()
	if !strings.Contains(out, `"message":"reconstruct start"`) || !strings.Contains(out, `"message":"reconstruct end"`) {
		t.Fatalf("missing log lines: %s", out)
	}
	if !strings.Contains(out, `"request_id"`) {
		t.Fatalf("missing request id: %s", out)
	}
}
