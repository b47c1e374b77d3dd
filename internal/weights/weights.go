// Package weights resolves a pretrained-weights identifier to a local
// directory, fetching missing files from a model hub on first use.
package weights

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"recon3d/internal/common/fsutil"
)

const (
	DefaultHubURL = "https://huggingface.co"
	DefaultCache  = "~/.cache/recon3d"
)

// weightsUnavailableError reports weights that are neither on disk nor
// fetchable.
type weightsUnavailableError struct {
	id, file string
	cause    error
}

func (e weightsUnavailableError) Error() string {
	msg := "weights unavailable"
	if e.id != "" {
		msg += ": " + e.id
	}
	if e.file != "" {
		msg += " (" + e.file + ")"
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e weightsUnavailableError) Unwrap() error { return e.cause }

// ErrWeightsUnavailable constructs a weightsUnavailableError.
func ErrWeightsUnavailable(id, file string, cause error) error {
	return weightsUnavailableError{id: id, file: file, cause: cause}
}

// IsWeightsUnavailable reports whether err means the weights could not be
// provided.
func IsWeightsUnavailable(err error) bool {
	var e weightsUnavailableError
	return errors.As(err, &e)
}

// Resolver maps identifiers to directories under CacheDir.
type Resolver struct {
	CacheDir string
	HubURL   string
	Offline  bool
	Client   *http.Client
	Logger   zerolog.Logger
}

// Resolve returns a directory holding every file in files. An id naming an
// existing directory is returned as is; otherwise id must be "owner/name"
// and missing files are downloaded into <CacheDir>/<owner>/<name>.
func (r *Resolver) Resolve(ctx context.Context, id string, files []string) (string, error) {
	if id == "" {
		return "", ErrWeightsUnavailable("", "", errors.New("no model_id or weights_dir configured"))
	}
	local, err := fsutil.ExpandHome(id)
	if err != nil {
		return "", err
	}
	if fsutil.IsDir(local) {
		for _, f := range files {
			if !fsutil.PathExists(filepath.Join(local, f)) {
				return "", ErrWeightsUnavailable(id, f, os.ErrNotExist)
			}
		}
		return local, nil
	}
	owner, name, ok := splitID(id)
	if !ok {
		return "", ErrWeightsUnavailable(id, "", errors.New("identifier must be owner/name or an existing directory"))
	}
	cache := r.CacheDir
	if cache == "" {
		cache = DefaultCache
	}
	if cache, err = fsutil.ExpandHome(cache); err != nil {
		return "", err
	}
	dir := filepath.Join(cache, owner, name)
	for _, f := range files {
		dst := filepath.Join(dir, f)
		if fsutil.PathExists(dst) {
			continue
		}
		if r.Offline {
			return "", ErrWeightsUnavailable(id, f, errors.New("offline and not cached"))
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return "", fmt.Errorf("create cache dir: %w", err)
		}
		if err := r.fetch(ctx, owner+"/"+name, f, dst); err != nil {
			return "", ErrWeightsUnavailable(id, f, err)
		}
	}
	return dir, nil
}

func splitID(id string) (owner, name string, ok bool) {
	owner, name, ok = strings.Cut(id, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", false
	}
	if owner == "." || owner == ".." || name == "." || name == ".." {
		return "", "", false
	}
	return owner, name, true
}

func (r *Resolver) fetch(ctx context.Context, id, file, dst string) error {
	hub := strings.TrimRight(r.HubURL, "/")
	if hub == "" {
		hub = DefaultHubURL
	}
	u := hub + "/" + id + "/resolve/main/" + (&url.URL{Path: file}).EscapedPath()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	start := time.Now()
	r.Logger.Info().Str("file", file).Str("url", u).Msg("fetching weights")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", u, resp.Status)
	}
	var n int64
	err = fsutil.WriteFileAtomic(dst, 0o644, func(w io.Writer) error {
		var cerr error
		n, cerr = io.Copy(w, resp.Body)
		return cerr
	})
	if err != nil {
		return err
	}
	r.Logger.Info().Str("file", file).Int64("bytes", n).Dur("took", time.Since(start)).Msg("weights fetched")
	return nil
}
