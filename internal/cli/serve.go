package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"recon3d/internal/config"
	"recon3d/internal/httpapi"
	"recon3d/internal/pipeline"
)

const shutdownTimeout = 5 * time.Second

func (a *App) serveCmd(g *globalFlags) *cobra.Command {
	f := &modelFlags{}
	var addr, root, origins string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve reconstructions over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd, g, func(cfg *config.Config) {
				f.apply(cmd, cfg)
				fl := cmd.Flags()
				if fl.Changed("addr") {
					cfg.Addr = addr
				}
				if fl.Changed("serve-root") {
					cfg.ServeRoot = root
				}
				if fl.Changed("cors-origins") {
					cfg.CORSOrigins = config.SplitCSV(origins)
				}
			})
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			return a.serve(cmd.Context(), cfg, ln)
		},
	}
	f.register(cmd)
	fl := cmd.Flags()
	fl.StringVar(&addr, "addr", "", "HTTP listen address (default :8080)")
	fl.StringVar(&root, "serve-root", "", "Directory request paths are resolved under (default .)")
	fl.StringVar(&origins, "cors-origins", "", "Comma-separated CORS origins; empty disables CORS")
	return cmd
}

// serve blocks until ctx is cancelled or the server fails.
func (a *App) serve(ctx context.Context, cfg config.Config, ln net.Listener) error {
	log := newLogger(a.Stderr, cfg.LogLevel, cfg.LogFormat)
	// Pausing on stdin makes no sense behind a listener.
	cfg.DebugPause = false
	runner, report, err := a.buildRunner(ctx, cfg, log, nil)
	if err != nil {
		ln.Close()
		return err
	}
	defer runner.Close()

	httpapi.SetLogger(log)
	httpapi.SetCORSOptions(len(cfg.CORSOrigins) > 0, cfg.CORSOrigins, nil, nil)
	httpapi.SetBaseContext(ctx)

	root := cfg.ServeRoot
	if root == "" {
		root = "."
	}
	srv := &http.Server{
		Handler:           httpapi.NewMux(&pipeline.Service{Runner: runner, Report: report, Root: root}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Load the model in the background; /readyz reports 503 until it is up.
	go func() {
		if err := runner.Warm(ctx); err != nil {
			log.Warn().Err(err).Msg("model warm-up failed; will retry on first request")
		}
	}()

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Str("root", root).Str("backend", cfg.Backend).Msg("recon3d listening")
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown")
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
