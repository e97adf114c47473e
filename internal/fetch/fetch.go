// Package fetch downloads source archives into a verified local cache.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/renameio"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/musicpd/depbuild/internal/lockedfile"
	"github.com/musicpd/depbuild/internal/manifest"
	"github.com/schollz/progressbar/v3"
)

// A Mirror serves archives by cache name before the upstream URL is tried.
type Mirror interface {
	// Open returns the archive stored under key, or an error wrapping
	// fs.ErrNotExist.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Options configures a Fetcher.
type Options struct {
	// Dir is the download cache directory.
	Dir string

	Client  *http.Client
	Retries int
	Backoff time.Duration
	Mirror  Mirror

	// Progress, when non-nil, receives a progress bar per download.
	Progress io.Writer
	Logger   *slog.Logger
}

// Fetcher downloads archives and verifies them against their checksums.
type Fetcher struct {
	opts     Options
	verified *lru.Cache[string, stamp]
}

// stamp identifies a cached file that was already verified.
type stamp struct {
	size    int64
	modTime time.Time
	sum     string
}

// New returns a Fetcher storing archives in opts.Dir.
func New(opts Options) (*Fetcher, error) {
	if opts.Dir == "" {
		return nil, errors.New("fetch: no download directory")
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cache, err := lru.New[string, stamp](1024)
	if err != nil {
		return nil, err
	}
	return &Fetcher{opts: opts, verified: cache}, nil
}

// CacheName returns the file name an archive is cached and mirrored under.
func CacheName(rawURL string, sum manifest.Checksum) string {
	return sum.Short() + "-" + manifest.ArchiveName(rawURL)
}

// Path returns the cache path of an archive, whether or not it exists.
func (f *Fetcher) Path(rawURL string, sum manifest.Checksum) string {
	return filepath.Join(f.opts.Dir, CacheName(rawURL, sum))
}

// Fetch makes sure the archive at rawURL is in the cache and matches sum,
// and returns its path.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, sum manifest.Checksum) (string, error) {
	dest := f.Path(rawURL, sum)
	if f.valid(dest, sum) {
		return dest, nil
	}

	unlock, err := lockedfile.MutexAt(dest + ".lock").Lock()
	if err != nil {
		return "", err
	}
	defer unlock()

	// another process may have completed the download while we waited
	if f.valid(dest, sum) {
		return dest, nil
	}

	if f.opts.Mirror != nil {
		err := f.fromMirror(ctx, rawURL, sum, dest)
		if err == nil {
			return dest, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			f.opts.Logger.Warn("mirror failed, trying upstream", "url", rawURL, "err", err)
		}
	}

	var attempt int
	for attempt = 1; ; attempt++ {
		err = f.download(ctx, rawURL, sum, dest)
		if err == nil {
			return dest, nil
		}
		var ie *IntegrityError
		if errors.As(err, &ie) {
			return "", err
		}
		if attempt >= f.opts.Retries || !retryable(err) || ctx.Err() != nil {
			break
		}
		wait := f.opts.Backoff * time.Duration(attempt)
		f.opts.Logger.Warn("download failed, retrying", "url", rawURL, "attempt", attempt, "wait", wait, "err", err)
		select {
		case <-ctx.Done():
			return "", &FetchError{URL: rawURL, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(wait):
		}
	}
	return "", &FetchError{URL: rawURL, Attempts: attempt, Err: err}
}

// valid reports whether dest exists and matches sum. A mismatching file is
// removed.
func (f *Fetcher) valid(dest string, sum manifest.Checksum) bool {
	fi, err := os.Stat(dest)
	if err != nil {
		return false
	}
	if st, ok := f.verified.Get(dest); ok && st.size == fi.Size() && st.modTime.Equal(fi.ModTime()) && st.sum == sum.String() {
		return true
	}
	got, err := hashFile(dest, sum)
	if err != nil {
		return false
	}
	if !sum.Matches(got) {
		f.opts.Logger.Warn("cached archive is corrupt, removing", "path", dest)
		os.Remove(dest)
		return false
	}
	f.verified.Add(dest, stamp{size: fi.Size(), modTime: fi.ModTime(), sum: sum.String()})
	return true
}

func (f *Fetcher) fromMirror(ctx context.Context, rawURL string, sum manifest.Checksum, dest string) error {
	rc, err := f.opts.Mirror.Open(ctx, CacheName(rawURL, sum))
	if err != nil {
		return err
	}
	defer rc.Close()
	f.opts.Logger.Info("fetching from mirror", "url", rawURL)
	return f.save(rawURL, rc, -1, sum, dest)
}

func (f *Fetcher) download(ctx context.Context, rawURL string, sum manifest.Checksum, dest string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	f.opts.Logger.Info("downloading", "url", rawURL)
	switch u.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		resp, err := f.opts.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return &statusError{Code: resp.StatusCode, Status: resp.Status}
		}
		return f.save(rawURL, resp.Body, resp.ContentLength, sum, dest)
	case "file":
		src, err := os.Open(u.Path)
		if err != nil {
			return err
		}
		defer src.Close()
		return f.save(rawURL, src, -1, sum, dest)
	case "ftp":
		return f.curl(ctx, rawURL, sum, dest)
	}
	return fmt.Errorf("unsupported URL scheme %q", u.Scheme)
}

// curl streams URLs net/http cannot serve.
func (f *Fetcher) curl(ctx context.Context, rawURL string, sum manifest.Checksum, dest string) error {
	cmd := exec.CommandContext(ctx, "curl", "-fsSL", "--retry", "0", rawURL)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	saveErr := f.save(rawURL, stdout, -1, sum, dest)
	if saveErr != nil {
		// curl may be blocked writing to the pipe nobody reads anymore
		cmd.Process.Kill()
	}
	err = cmd.Wait()
	if saveErr != nil {
		return saveErr
	}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return &curlError{Code: ee.ExitCode(), Err: err}
		}
		return fmt.Errorf("curl: %w", err)
	}
	return nil
}

// save streams r into dest, hashing while writing. dest only appears once
// the digest matches.
func (f *Fetcher) save(rawURL string, r io.Reader, size int64, sum manifest.Checksum, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	t, err := renameio.TempFile(filepath.Dir(dest), dest)
	if err != nil {
		return err
	}
	defer t.Cleanup()

	h := sum.New()
	w := io.MultiWriter(t, h)
	if f.opts.Progress != nil {
		bar := progressbar.NewOptions64(size,
			progressbar.OptionSetWriter(f.opts.Progress),
			progressbar.OptionSetDescription(manifest.ArchiveName(rawURL)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Finish()
		w = io.MultiWriter(w, bar)
	}
	if _, err := io.Copy(w, r); err != nil {
		return err
	}

	got := h.Sum(nil)
	if !sum.Matches(got) {
		return &IntegrityError{
			URL:  rawURL,
			Want: sum.String(),
			Got:  manifest.Checksum{Algorithm: sum.Algorithm, Digest: got}.String(),
		}
	}
	if err := t.Chmod(0o644); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

func hashFile(path string, sum manifest.Checksum) ([]byte, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	h := sum.New()
	if _, err := io.Copy(h, fh); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
