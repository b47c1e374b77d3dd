package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"recon3d/internal/config"
	"recon3d/internal/device"
	"recon3d/internal/imageio"
	"recon3d/internal/model"
	"recon3d/internal/pipeline"
	"recon3d/internal/pointcloud"
	"recon3d/internal/weights"
)

// modelFlags are shared by run and serve.
type modelFlags struct {
	device, precision, backend string
	modelID, weightsDir        string
	cacheDir, hubURL           string
	offline                    bool
	onnxLibrary                string
	onnxThreads                int
	remoteURL, requestTimeout  string
	preprocessMode             string
}

func (f *modelFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.device, "device", "", "Device override: auto|cpu|cuda")
	fl.StringVar(&f.precision, "precision", "", "Precision override: auto|bfloat16|float16|float32")
	fl.StringVar(&f.backend, "backend", "", "Model backend: onnx|remote|synthetic (default onnx)")
	fl.StringVar(&f.modelID, "model-id", "", "Hub repo owner/name holding the exported stage graphs")
	fl.StringVar(&f.weightsDir, "weights-dir", "", "Local weights directory; skips the hub")
	fl.StringVar(&f.cacheDir, "cache-dir", "", "Weights cache directory (default ~/.cache/recon3d)")
	fl.StringVar(&f.hubURL, "hub-url", "", "Model hub base URL")
	fl.BoolVar(&f.offline, "offline", false, "Never download weights")
	fl.StringVar(&f.onnxLibrary, "onnx-library", "", "Path to the onnxruntime shared library")
	fl.IntVar(&f.onnxThreads, "onnx-threads", 0, "Intra-op threads for onnxruntime (0 = runtime default)")
	fl.StringVar(&f.remoteURL, "remote-url", "", "Inference server base URL for the remote backend")
	fl.StringVar(&f.requestTimeout, "request-timeout", "", "Per-stage timeout for the remote backend (default 10m)")
	fl.StringVar(&f.preprocessMode, "mode", "", "Preprocessing: crop|pad (default crop)")
}

func (f *modelFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	fl := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if fl.Changed(name) {
			*dst = v
		}
	}
	set("device", &cfg.Device, f.device)
	set("precision", &cfg.Precision, f.precision)
	set("backend", &cfg.Backend, f.backend)
	set("model-id", &cfg.ModelID, f.modelID)
	set("weights-dir", &cfg.WeightsDir, f.weightsDir)
	set("cache-dir", &cfg.CacheDir, f.cacheDir)
	set("hub-url", &cfg.HubURL, f.hubURL)
	set("onnx-library", &cfg.ONNXLibrary, f.onnxLibrary)
	set("remote-url", &cfg.RemoteURL, f.remoteURL)
	set("request-timeout", &cfg.RequestTimeout, f.requestTimeout)
	set("mode", &cfg.PreprocessMode, f.preprocessMode)
	if fl.Changed("offline") {
		cfg.Offline = f.offline
	}
	if fl.Changed("onnx-threads") {
		cfg.ONNXThreads = f.onnxThreads
	}
}

type runFlags struct {
	modelFlags
	sourceDir  string
	output     string
	ascii      bool
	track      bool
	queries    string
	debugPause bool
}

func (a *App) runCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [source-dir]",
		Short: "Reconstruct a point cloud from a directory of images",
		Example: "  recon3d run examples/kitchen/images -o kitchen.ply\n" +
			"  recon3d run --backend synthetic --track --query 100:200 imgs/",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd, g, func(cfg *config.Config) {
				f.modelFlags.apply(cmd, cfg)
				fl := cmd.Flags()
				if len(args) == 1 {
					cfg.SourceDir = args[0]
				} else if fl.Changed("source-dir") {
					cfg.SourceDir = f.sourceDir
				}
				if fl.Changed("output") {
					cfg.OutputPath = f.output
				}
				if fl.Changed("ascii") {
					cfg.PLYASCII = f.ascii
				}
				if fl.Changed("track") {
					cfg.Track = f.track
				}
				if fl.Changed("debug-pause") {
					cfg.DebugPause = f.debugPause
				}
			})
			if err != nil {
				return err
			}
			if fl := cmd.Flags(); fl.Changed("query") {
				qs, err := config.ParseQueries(f.queries)
				if err != nil {
					return fmt.Errorf("--query: %w", err)
				}
				cfg.TrackQueries = qs
				cfg.Track = true
			}
			if cfg.SourceDir == "" {
				return fmt.Errorf("source directory is required (argument, --source-dir or source_dir)")
			}
			return a.run(cmd.Context(), cfg)
		},
	}
	f.modelFlags.register(cmd)
	fl := cmd.Flags()
	fl.StringVar(&f.sourceDir, "source-dir", "", "Directory of input images")
	fl.StringVarP(&f.output, "output", "o", "", "Point-cloud output path, .ply or .xyz (default output.ply)")
	fl.BoolVar(&f.ascii, "ascii", false, "Write ASCII PLY instead of binary")
	fl.BoolVar(&f.track, "track", false, "Run the tracking stage")
	fl.StringVar(&f.queries, "query", "", "Track query points as x:y[,x:y...] in the first view (implies --track)")
	fl.BoolVar(&f.debugPause, "debug-pause", false, "Pause after every stage and wait for Enter")
	return cmd
}

func (a *App) run(ctx context.Context, cfg config.Config) error {
	log := newLogger(a.Stderr, cfg.LogLevel, cfg.LogFormat)
	runner, _, err := a.buildRunner(ctx, cfg, log, a.Stdout)
	if err != nil {
		return err
	}
	defer runner.Close()
	res, err := runner.Run(ctx, pipeline.Request{
		SourceDir:  cfg.SourceDir,
		OutputPath: cfg.OutputPath,
		Track:      cfg.Track,
		Queries:    cfg.TrackQueries,
	})
	if err != nil {
		return err
	}
	ev := log.Info().Str("run_id", res.RunID).Int("views", res.Views).Int("points", res.PointCount)
	if res.Tracks != nil {
		ev = ev.Int("tracked_queries", res.Tracks.Queries)
	}
	ev.Msg("reconstruction complete")
	return nil
}

// backends returns every backend configured from cfg.
func backends(cfg config.Config) *model.Registry {
	return model.NewRegistry(
		model.NewSyntheticBackend(model.SyntheticOptions{}),
		model.NewONNXBackend(model.ONNXOptions{LibraryPath: cfg.ONNXLibrary, Threads: cfg.ONNXThreads}),
		model.NewRemoteBackend(model.RemoteOptions{BaseURL: cfg.RemoteURL, APIKey: cfg.RemoteAPIKey, RequestTimeout: cfg.Timeout()}),
	)
}

// buildRunner probes the device, selects the backend and wires the runner.
// The model is loaded lazily by the runner.
func (a *App) buildRunner(ctx context.Context, cfg config.Config, log zerolog.Logger, stdout io.Writer) (*pipeline.Runner, device.Report, error) {
	report := a.probe(ctx, log)
	sel := device.Select(report, cfg.Overrides())
	ev := log.Info().Str("device", string(sel.Device)).Str("dtype", string(sel.Precision))
	if report.Accelerator {
		ev = ev.Str("gpu", report.Name).Str("capability", report.Capability())
	}
	ev.Msg("device selected")

	if err := cfg.CheckModelSource(); err != nil {
		return nil, report, err
	}
	backend, err := backends(cfg).Get(cfg.Backend)
	if err != nil {
		return nil, report, err
	}
	opts := pipeline.Options{
		Backend:    backend,
		Selection:  sel,
		Weights:    &weights.Resolver{CacheDir: cfg.CacheDir, HubURL: cfg.HubURL, Offline: cfg.Offline, Logger: log},
		ModelID:    cfg.ModelID,
		WeightsDir: cfg.WeightsDir,
		Mode:       imageio.Mode(cfg.PreprocessMode),
		PointCloud: pointcloud.Options{ASCII: cfg.PLYASCII, Comment: "generated by recon3d"},
		Publisher:  pipeline.LogPublisher{Logger: log},
		Logger:     log,
		Stdout:     stdout,
	}
	if cfg.DebugPause {
		opts.Inspector = &pipeline.PauseInspector{In: a.Stdin, Out: a.Stderr}
	}
	runner, err := pipeline.NewRunner(opts)
	return runner, report, err
}

func (a *App) deviceCmd(g *globalFlags) *cobra.Command {
	var dev, prec string
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Probe the host and print the selected device and precision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd, g, func(cfg *config.Config) {
				if cmd.Flags().Changed("device") {
					cfg.Device = dev
				}
				if cmd.Flags().Changed("precision") {
					cfg.Precision = prec
				}
			})
			if err != nil {
				return err
			}
			log := newLogger(a.Stderr, cfg.LogLevel, cfg.LogFormat)
			report := a.probe(cmd.Context(), log)
			sel := device.Select(report, cfg.Overrides())
			if report.Accelerator {
				fmt.Fprintf(a.Stdout, "accelerator: %s (compute %s)\n", report.Name, report.Capability())
			} else {
				fmt.Fprintln(a.Stdout, "accelerator: none")
			}
			_, err = fmt.Fprintf(a.Stdout, "device: %s\ndtype: %s\n", sel.Device, sel.Precision)
			return err
		},
	}
	cmd.Flags().StringVar(&dev, "device", "", "Device override: auto|cpu|cuda")
	cmd.Flags().StringVar(&prec, "precision", "", "Precision override: auto|bfloat16|float16|float32")
	return cmd
}
