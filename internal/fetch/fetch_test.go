package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/musicpd/depbuild/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var payload = []byte("pretend this is a tarball\n")

func checksumOf(t *testing.T, data []byte) manifest.Checksum {
	t.Helper()
	s := sha256.Sum256(data)
	c, err := manifest.ParseChecksum(hex.EncodeToString(s[:]))
	require.NoError(t, err)
	return c
}

func newFetcher(t *testing.T, mirror Mirror) *Fetcher {
	t.Helper()
	f, err := New(Options{Dir: t.TempDir(), Backoff: time.Millisecond, Mirror: mirror})
	require.NoError(t, err)
	return f
}

func TestFetch(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(payload)
	}))
	defer srv.Close()

	f := newFetcher(t, nil)
	sum := checksumOf(t, payload)
	url := srv.URL + "/libfoo-1.0.tar.gz"

	path, err := f.Fetch(context.Background(), url, sum)
	require.NoError(t, err)
	assert.Equal(t, sum.Short()+"-libfoo-1.0.tar.gz", filepath.Base(path))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// cached
	path2, err := f.Fetch(context.Background(), url, sum)
	require.NoError(t, err)
	assert.Equal(t, path, path2)
	assert.EqualValues(t, 1, hits.Load())
}

func TestFetchIntegrityError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("tampered"))
	}))
	defer srv.Close()

	f := newFetcher(t, nil)
	sum := checksumOf(t, payload)

	_, err := f.Fetch(context.Background(), srv.URL+"/libfoo-1.0.tar.gz", sum)
	var ie *IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, sum.String(), ie.Want)
	assert.EqualValues(t, 1, hits.Load(), "integrity failures are not retried")

	_, statErr := os.Stat(f.Path(srv.URL+"/libfoo-1.0.tar.gz", sum))
	assert.True(t, errors.Is(statErr, fs.ErrNotExist), "bad bytes must not stay in the cache")
}

func TestFetchRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	f := newFetcher(t, nil)
	_, err := f.Fetch(context.Background(), srv.URL+"/a-1.0.tar.gz", checksumOf(t, payload))
	require.NoError(t, err)
	assert.EqualValues(t, 3, hits.Load())
}

func TestFetchGivesUp(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		attempts int
	}{
		{"server error", http.StatusInternalServerError, 3},
		{"rate limited", http.StatusTooManyRequests, 3},
		{"not found", http.StatusNotFound, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.code)
			}))
			defer srv.Close()

			f := newFetcher(t, nil)
			_, err := f.Fetch(context.Background(), srv.URL+"/a-1.0.tar.gz", checksumOf(t, payload))
			var fe *FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.attempts, fe.Attempts)
			assert.EqualValues(t, tt.attempts, hits.Load())
		})
	}
}

func TestFetchReplacesCorruptCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	f := newFetcher(t, nil)
	sum := checksumOf(t, payload)
	url := srv.URL + "/a-1.0.tar.gz"
	require.NoError(t, os.WriteFile(f.Path(url, sum), []byte("truncated"), 0o644))

	path, err := f.Fetch(context.Background(), url, sum)
	require.NoError(t, err)
	got, _ := os.ReadFile(path)
	assert.Equal(t, payload, got)
}

type mapMirror struct {
	mu    sync.Mutex
	files map[string][]byte
	opens int
}

func (m *mapMirror) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	data, ok := m.files[key]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func TestFetchPrefersMirror(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("upstream must not be contacted, got %s", r.URL)
	}))
	defer srv.Close()

	sum := checksumOf(t, payload)
	url := srv.URL + "/libfoo-1.0.tar.gz"
	m := &mapMirror{files: map[string][]byte{CacheName(url, sum): payload}}

	_, err := newFetcher(t, m).Fetch(context.Background(), url, sum)
	require.NoError(t, err)
	assert.Equal(t, 1, m.opens)
}

func TestFetchFallsBackFromBadMirror(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	sum := checksumOf(t, payload)
	url := srv.URL + "/libfoo-1.0.tar.gz"
	m := &mapMirror{files: map[string][]byte{CacheName(url, sum): []byte("stale")}}

	path, err := newFetcher(t, m).Fetch(context.Background(), url, sum)
	require.NoError(t, err)
	got, _ := os.ReadFile(path)
	assert.Equal(t, payload, got)
}

func TestFetchFileURL(t *testing.T) {
	src := filepath.Join(t.TempDir(), "local-1.0.tar.gz")
	require.NoError(t, os.WriteFile(src, payload, 0o644))

	_, err := newFetcher(t, nil).Fetch(context.Background(), "file://"+filepath.ToSlash(src), checksumOf(t, payload))
	require.NoError(t, err)
}

func TestFetchPermanentErrorsNotRetried(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone-1.0.tar.gz")
	tests := []struct {
		name string
		url  string
	}{
		{"unsupported scheme", "gopher://example.org/a-1.0.tar.gz"},
		{"missing local file", "file://" + filepath.ToSlash(missing)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newFetcher(t, nil).Fetch(context.Background(), tt.url, checksumOf(t, payload))
			var fe *FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, 1, fe.Attempts)
		})
	}
}

type timeoutError struct{}

func (timeoutError) Error() string { return "i/o timeout" }
func (timeoutError) Timeout() bool { return true }
func (timeoutError) Temporary() bool { return true }

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"bad gateway", &statusError{Code: http.StatusBadGateway}, true},
		{"rate limited", &statusError{Code: http.StatusTooManyRequests}, true},
		{"forbidden", &statusError{Code: http.StatusForbidden}, false},
		{"network", fmt.Errorf("get: %w", timeoutError{}), true},
		{"truncated body", io.ErrUnexpectedEOF, true},
		{"curl connect", &curlError{Code: 7}, true},
		{"curl not found", &curlError{Code: 22}, false},
		{"integrity", &IntegrityError{}, false},
		{"missing file", fs.ErrNotExist, false},
		{"canceled", context.Canceled, false},
		{"other", errors.New("unsupported URL scheme"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryable(tt.err))
		})
	}
}

func TestFetchCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f, err := New(Options{Dir: t.TempDir(), Backoff: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = f.Fetch(ctx, srv.URL+"/a-1.0.tar.gz", checksumOf(t, payload))
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, context.Canceled)
}
