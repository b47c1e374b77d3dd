package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"recon3d/internal/model"
)

// Config holds every option of a reconstruction run and of serve mode.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	SourceDir  string `json:"source_dir" yaml:"source_dir" toml:"source_dir"`
	OutputPath string `json:"output_path" yaml:"output_path" toml:"output_path"`
	// Device and Precision override hardware-based selection.
	Device    string `json:"device" yaml:"device" toml:"device"`
	Precision string `json:"precision" yaml:"precision" toml:"precision"`

	Backend    string `json:"backend" yaml:"backend" toml:"backend"`
	ModelID    string `json:"model_id" yaml:"model_id" toml:"model_id"`
	WeightsDir string `json:"weights_dir" yaml:"weights_dir" toml:"weights_dir"`
	CacheDir   string `json:"cache_dir" yaml:"cache_dir" toml:"cache_dir"`
	HubURL     string `json:"hub_url" yaml:"hub_url" toml:"hub_url"`
	Offline    bool   `json:"offline" yaml:"offline" toml:"offline"`

	PreprocessMode string        `json:"preprocess_mode" yaml:"preprocess_mode" toml:"preprocess_mode"`
	PLYASCII       bool          `json:"ply_ascii" yaml:"ply_ascii" toml:"ply_ascii"`
	Track          bool          `json:"track" yaml:"track" toml:"track"`
	TrackQueries   []model.Query `json:"track_queries" yaml:"track_queries" toml:"track_queries"`
	DebugPause     bool          `json:"debug_pause" yaml:"debug_pause" toml:"debug_pause"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`

	ONNXLibrary    string `json:"onnx_library" yaml:"onnx_library" toml:"onnx_library"`
	ONNXThreads    int    `json:"onnx_threads" yaml:"onnx_threads" toml:"onnx_threads"`
	RemoteURL      string `json:"remote_url" yaml:"remote_url" toml:"remote_url"`
	RemoteAPIKey   string `json:"remote_api_key" yaml:"remote_api_key" toml:"remote_api_key"`
	RequestTimeout string `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`

	Addr        string   `json:"addr" yaml:"addr" toml:"addr"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	ServeRoot   string   `json:"serve_root" yaml:"serve_root" toml:"serve_root"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
