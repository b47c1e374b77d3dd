package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"recon3d/internal/device"
	"recon3d/internal/imageio"
	"recon3d/internal/model"
	"recon3d/internal/pointcloud"
	"recon3d/internal/weights"
)

// Defaults.
const (
	DefaultOutputPath     = "output.ply"
	DefaultBackend        = model.ONNXName
	DefaultPreprocessMode = string(imageio.ModeCrop)
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "console"
	DefaultRequestTimeout = "10m"
	DefaultAddr           = ":8080"
)

// EnvPrefix prefixes every environment override, e.g. RECON3D_SOURCE_DIR.
const EnvPrefix = "RECON3D_"

// WithDefaults returns a copy with unspecified fields filled in.
func (c Config) WithDefaults() Config {
	if c.OutputPath == "" {
		c.OutputPath = DefaultOutputPath
	}
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	if c.CacheDir == "" {
		c.CacheDir = weights.DefaultCache
	}
	if c.HubURL == "" {
		c.HubURL = weights.DefaultHubURL
	}
	if c.PreprocessMode == "" {
		c.PreprocessMode = DefaultPreprocessMode
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.RequestTimeout == "" {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	return c
}

// ApplyEnv overlays RECON3D_* variables found by lookup. Lists are comma
// separated; track queries are "x:y" pairs, e.g. "100:200,60.72:259.94".
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	var errs []error
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	str("SOURCE_DIR", &c.SourceDir)
	str("OUTPUT_PATH", &c.OutputPath)
	str("DEVICE", &c.Device)
	str("PRECISION", &c.Precision)
	str("BACKEND", &c.Backend)
	str("MODEL_ID", &c.ModelID)
	str("WEIGHTS_DIR", &c.WeightsDir)
	str("CACHE_DIR", &c.CacheDir)
	str("HUB_URL", &c.HubURL)
	boolean("OFFLINE", &c.Offline)
	str("PREPROCESS_MODE", &c.PreprocessMode)
	boolean("PLY_ASCII", &c.PLYASCII)
	boolean("TRACK", &c.Track)
	boolean("DEBUG_PAUSE", &c.DebugPause)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("ONNX_LIBRARY", &c.ONNXLibrary)
	str("REMOTE_URL", &c.RemoteURL)
	str("REMOTE_API_KEY", &c.RemoteAPIKey)
	str("REQUEST_TIMEOUT", &c.RequestTimeout)
	str("ADDR", &c.Addr)
	str("SERVE_ROOT", &c.ServeRoot)
	if v, ok := lookup(EnvPrefix + "ONNX_THREADS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sONNX_THREADS: %w", EnvPrefix, err))
		} else {
			c.ONNXThreads = n
		}
	}
	if v, ok := lookup(EnvPrefix + "CORS_ORIGINS"); ok {
		c.CORSOrigins = SplitCSV(v)
	}
	if v, ok := lookup(EnvPrefix + "TRACK_QUERIES"); ok {
		qs, err := ParseQueries(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sTRACK_QUERIES: %w", EnvPrefix, err))
		} else {
			c.TrackQueries = qs
		}
	}
	return errors.Join(errs...)
}

// SplitCSV splits a comma-separated list, trimming blanks.
func SplitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseQueries parses "x:y[,x:y...]" into query points.
func ParseQueries(s string) ([]model.Query, error) {
	var out []model.Query
	for _, p := range SplitCSV(s) {
		xs, ys, ok := strings.Cut(p, ":")
		if !ok {
			return nil, fmt.Errorf("query %q: want x:y", p)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", p, err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", p, err)
		}
		out = append(out, model.Query{X: x, Y: y})
	}
	return out, nil
}

// Validate checks option values. It does not require SourceDir, which
// serve mode takes per request.
func (c Config) Validate() error {
	var errs []error
	if _, err := device.ParseDevice(c.Device); err != nil {
		errs = append(errs, err)
	}
	if _, err := device.ParsePrecision(c.Precision); err != nil {
		errs = append(errs, err)
	}
	switch c.Backend {
	case model.SyntheticName, model.ONNXName:
	case model.RemoteName:
		if c.RemoteURL == "" {
			errs = append(errs, errors.New("remote backend requires remote_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (want synthetic|onnx|remote)", c.Backend))
	}
	switch imageio.Mode(c.PreprocessMode) {
	case imageio.ModeCrop, imageio.ModePad:
	default:
		errs = append(errs, fmt.Errorf("unknown preprocess_mode %q (want crop|pad)", c.PreprocessMode))
	}
	if c.OutputPath != "" {
		if _, err := pointcloud.FormatFor(c.OutputPath); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q (want console|json)", c.LogFormat))
	}
	if c.RequestTimeout != "" {
		if d, err := time.ParseDuration(c.RequestTimeout); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("request_timeout %q is not a positive duration", c.RequestTimeout))
		}
	}
	if c.ONNXThreads < 0 {
		errs = append(errs, errors.New("onnx_threads must be >= 0"))
	}
	return errors.Join(errs...)
}

// CheckModelSource reports a backend that has no way to find its weights.
// The onnx backend loads exported stage graphs, which only exist in a local
// weights_dir or a hub repo named by model_id; there is no usable default.
func (c Config) CheckModelSource() error {
	if c.Backend == model.ONNXName && c.WeightsDir == "" && c.ModelID == "" {
		return errors.New("onnx backend requires weights_dir (exported ONNX graphs) or model_id of a hub repo hosting them")
	}
	return nil
}

// Overrides returns the parsed device and precision overrides. Call after
// Validate.
func (c Config) Overrides() device.Overrides {
	d, _ := device.ParseDevice(c.Device)
	p, _ := device.ParsePrecision(c.Precision)
	return device.Overrides{Device: d, Precision: p}
}

// Timeout returns RequestTimeout parsed, or the default on error.
func (c Config) Timeout() time.Duration {
	if d, err := time.ParseDuration(c.RequestTimeout); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(DefaultRequestTimeout)
	return d
}
