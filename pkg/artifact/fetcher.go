// Package artifact materializes model executables as local files.
//
// Local references are returned directly. Remote references (http, https, s3, gcs, git, ...) are
// downloaded once with go-getter into the cache directory and reused by model name afterwards.
package artifact

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"senseflow/pkg/config"
	"senseflow/pkg/interfaces"
	"senseflow/pkg/logger"

	"github.com/hashicorp/go-getter"
	"golang.org/x/sync/singleflight"
)

// Fetcher download-once artifact cache
type Fetcher struct {
	cacheDir string
	timeout  time.Duration
	group    singleflight.Group
	getters  map[string]getter.Getter
}

var _ interfaces.ArtifactFetcher = (*Fetcher)(nil)

// NewFetcher creates a fetcher writing into cfg.CacheDir
func NewFetcher(cfg config.ArtifactConfig) (*Fetcher, error) {
	dir := cfg.CacheDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "senseflow-models")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact cache dir %s: %w", dir, err)
	}
	timeout := cfg.DownloadTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{
		cacheDir: dir,
		timeout:  timeout,
		getters:  getter.Getters,
	}, nil
}

// Fetch returns a local path for ref, downloading it on first use.
// Concurrent fetches of the same model share one download.
func (f *Fetcher) Fetch(ctx context.Context, name, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("model %s has no executable reference", name)
	}

	local, remote, err := f.detect(ref)
	if err != nil {
		return "", err
	}
	if remote == "" {
		if _, err := os.Stat(local); err != nil {
			return "", fmt.Errorf("model %s executable not found at %s: %w", name, local, err)
		}
		return local, nil
	}

	dst := f.cachePath(name, ref)
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}

	// the download outlives any single caller; only the configured timeout bounds it
	ch := f.group.DoChan(dst, func() (interface{}, error) {
		return dst, f.download(context.WithoutCancel(ctx), name, remote, dst)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			logger.DebugCtx(ctx, "artifact %s download shared with a concurrent request", name)
		}
		return res.Val.(string), nil
	}
}

// detect resolves ref to either a local absolute path or a go-getter source string
func (f *Fetcher) detect(ref string) (string, string, error) {
	pwd, err := os.Getwd()
	if err != nil {
		pwd = "."
	}
	detected, err := getter.Detect(ref, pwd, getter.Detectors)
	if err != nil {
		return "", "", fmt.Errorf("failed to detect source type of %s: %w", ref, err)
	}
	u, err := url.Parse(detected)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse detected source %s: %w", detected, err)
	}
	if u.Scheme == "" || u.Scheme == "file" {
		local := ref
		if u.Scheme == "file" {
			local = u.Path
		}
		if !filepath.IsAbs(local) {
			local = filepath.Join(pwd, local)
		}
		return local, "", nil
	}
	return "", detected, nil
}

func (f *Fetcher) download(ctx context.Context, name, src, dst string) error {
	// a previous caller may have finished while this one waited on the group
	if _, err := os.Stat(dst); err == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	tmp := fmt.Sprintf("%s.%d.part", dst, time.Now().UnixNano())
	start := time.Now()
	client := &getter.Client{
		Ctx:     ctx,
		Src:     src,
		Dst:     tmp,
		Mode:    getter.ClientModeFile,
		Getters: f.getters,
	}
	if err := client.Get(); err != nil {
		_ = os.RemoveAll(tmp)
		return fmt.Errorf("failed to download model %s: %w", name, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.RemoveAll(tmp)
		return fmt.Errorf("failed to move model %s into cache: %w", name, err)
	}

	logger.InfoCtx(ctx, "downloaded model %s to %s in %v", name, dst, time.Since(start))
	return nil
}

// cachePath returns the cache location for a model, keeping the reference's file extension
func (f *Fetcher) cachePath(name, ref string) string {
	ext := ""
	if u, err := url.Parse(ref); err == nil {
		ext = path.Ext(u.Path)
	}
	return filepath.Join(f.cacheDir, sanitizeName(name)+ext)
}

func sanitizeName(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "-", " ", "-", "..", "_")
	name = replacer.Replace(name)
	if name == "" {
		name = "model"
	}
	return name
}
