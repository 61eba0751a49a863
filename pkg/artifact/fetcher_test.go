package artifact

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"senseflow/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFetcher(t *testing.T) *Fetcher {
	t.Helper()
	f, err := NewFetcher(config.ArtifactConfig{CacheDir: t.TempDir(), DownloadTimeout: 5 * time.Second})
	require.NoError(t, err)
	return f
}

func TestFetch_LocalPath(t *testing.T) {
	f := newFetcher(t)
	path := filepath.Join(t.TempDir(), "har.wasm")
	require.NoError(t, os.WriteFile(path, []byte("wasm"), 0o644))

	got, err := f.Fetch(context.Background(), "har", path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestFetch_LocalMissing(t *testing.T) {
	f := newFetcher(t)
	_, err := f.Fetch(context.Background(), "har", filepath.Join(t.TempDir(), "absent.wasm"))
	assert.Error(t, err)
}

func TestFetch_EmptyRef(t *testing.T) {
	f := newFetcher(t)
	_, err := f.Fetch(context.Background(), "har", "")
	assert.Error(t, err)
}

func TestFetch_DownloadsOnce(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			atomic.AddInt32(&hits, 1)
		}
		_, _ = w.Write([]byte("model-bytes"))
	}))
	defer srv.Close()

	f := newFetcher(t)
	ref := srv.URL + "/models/har.wasm"

	var wg sync.WaitGroup
	paths := make([]string, 4)
	errs := make([]error, 4)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = f.Fetch(context.Background(), "har-wrist", ref)
		}(i)
	}
	wg.Wait()

	for i := range paths {
		require.NoError(t, errs[i])
		assert.Equal(t, filepath.Join(f.cacheDir, "har-wrist.wasm"), paths[i])
	}
	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, "model-bytes", string(data))

	_, err = f.Fetch(context.Background(), "har-wrist", ref)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestFetch_CancelledCallerDoesNotAbortSharedDownload(t *testing.T) {
	var hits int32
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			if atomic.AddInt32(&hits, 1) == 1 {
				close(started)
			}
			<-release
		}
		_, _ = w.Write([]byte("model-bytes"))
	}))
	defer srv.Close()

	f := newFetcher(t)
	ref := srv.URL + "/models/fog.wasm"

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := f.Fetch(ctx, "fog", ref)
		first <- err
	}()
	<-started

	second := make(chan error, 1)
	go func() {
		_, err := f.Fetch(context.Background(), "fog", ref)
		second <- err
	}()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(release)
	require.NoError(t, <-second)
	data, err := os.ReadFile(filepath.Join(f.cacheDir, "fog.wasm"))
	require.NoError(t, err)
	assert.Equal(t, "model-bytes", string(data))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestFetch_DownloadFailureLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newFetcher(t)
	_, err := f.Fetch(context.Background(), "gait", srv.URL+"/gait.wasm")
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(f.cacheDir, "gait.wasm"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "a_b", sanitizeName("a/b"))
	assert.Equal(t, "model", sanitizeName(""))
	assert.Equal(t, "__x", sanitizeName("../x"))
}
