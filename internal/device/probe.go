package device

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// CommandRunner executes a command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

const defaultProbeTimeout = 5 * time.Second

// Prober inspects the host for a CUDA accelerator through nvidia-smi.
// Zero-valued fields fall back to ExecRunner, os.LookupEnv and a 5s timeout.
type Prober struct {
	Run       CommandRunner
	LookupEnv func(string) (string, bool)
	Timeout   time.Duration
	Logger    zerolog.Logger
}

// Probe never fails: anything that prevents reading a capability report
// degrades to "no accelerator".
func (p Prober) Probe(ctx context.Context) Report {
	lookup := p.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	// CUDA_VISIBLE_DEVICES="" or "-1" hides every device from the runtime.
	if v, ok := lookup("CUDA_VISIBLE_DEVICES"); ok {
		if v = strings.TrimSpace(v); v == "" || v == "-1" {
			p.Logger.Debug().Str("CUDA_VISIBLE_DEVICES", v).Msg("accelerators hidden by environment")
			return Report{}
		}
	}
	run := p.Run
	if run == nil {
		run = ExecRunner
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := run(ctx, "nvidia-smi", "--query-gpu=name,compute_cap", "--format=csv,noheader")
	if err != nil {
		p.Logger.Debug().Err(err).Msg("nvidia-smi unavailable; assuming no accelerator")
		return Report{}
	}
	r, ok := parseSMI(string(out))
	if !ok {
		p.Logger.Debug().Str("output", string(out)).Msg("unparsable nvidia-smi output")
		return Report{}
	}
	return r
}

// parseSMI reads the first device line of
// `nvidia-smi --query-gpu=name,compute_cap --format=csv,noheader`,
// e.g. "NVIDIA A100-SXM4-40GB, 8.0".
func parseSMI(out string) (Report, bool) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		i := strings.LastIndex(line, ",")
		if i < 0 {
			return Report{}, false
		}
		name := strings.TrimSpace(line[:i])
		majStr, minStr, _ := strings.Cut(strings.TrimSpace(line[i+1:]), ".")
		major, err := strconv.Atoi(majStr)
		if err != nil {
			return Report{}, false
		}
		minor := 0
		if minStr != "" {
			if minor, err = strconv.Atoi(minStr); err != nil {
				return Report{}, false
			}
		}
		return Report{Accelerator: true, Name: name, ComputeMajor: major, ComputeMinor: minor}, true
	}
	return Report{}, false
}
