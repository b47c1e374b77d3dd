// Package cli builds the recon3d cobra command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"recon3d/internal/config"
	"recon3d/internal/device"
)

// Version is set at build time with -ldflags "-X recon3d/internal/cli.Version=...".
var Version = "dev"

// App carries the process environment so commands can be exercised in tests.
type App struct {
	Stdin     io.Reader
	Stdout    io.Writer
	Stderr    io.Writer
	LookupEnv func(string) (string, bool)
	// Probe reports the host accelerator; defaults to nvidia-smi.
	Probe func(ctx context.Context, log zerolog.Logger) device.Report
}

// NewApp returns an App bound to the process.
func NewApp() *App {
	return &App{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr, LookupEnv: os.LookupEnv}
}

func (a *App) probe(ctx context.Context, log zerolog.Logger) device.Report {
	if a.Probe != nil {
		return a.Probe(ctx, log)
	}
	return device.Prober{LookupEnv: a.LookupEnv, Logger: log}.Probe(ctx)
}

// Execute runs the command tree with args and returns the process exit code.
func (a *App) Execute(ctx context.Context, args []string) int {
	root := a.RootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(a.Stderr, "error:", err)
		return 1
	}
	return 0
}

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

// RootCmd constructs the command tree.
func (a *App) RootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "recon3d",
		Short:         "Multi-view 3D reconstruction into point clouds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(a.Stdin)
	root.SetOut(a.Stdout)
	root.SetErr(a.Stderr)
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file (.yaml, .yml, .json, .toml)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug|info|warn|error (default info)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format: console|json (default console)")

	root.AddCommand(a.runCmd(g), a.deviceCmd(g), a.serveCmd(g), a.versionCmd())

	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(a.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(a.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(a.Stdout, true) }})
	completionCmd.AddCommand(&cobra.Command{Use: "powershell", Short: "PowerShell completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenPowerShellCompletionWithDesc(a.Stdout) }})
	root.AddCommand(completionCmd)
	root.CompletionOptions.DisableDefaultCmd = true
	return root
}

// loadConfig layers file, environment and changed flags, in that order,
// then applies defaults and validates.
func (a *App) loadConfig(cmd *cobra.Command, g *globalFlags, flags func(*config.Config)) (config.Config, error) {
	var cfg config.Config
	if g.configPath != "" {
		var err error
		if cfg, err = config.Load(g.configPath); err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
	}
	lookup := a.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = g.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = g.logFormat
	}
	if flags != nil {
		flags(&cfg)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (a *App) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(a.Stdout, "recon3d %s\n", Version)
			return err
		},
	}
}
