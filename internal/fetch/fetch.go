package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/oshokin/ocp-packager/internal/logger"
	"github.com/oshokin/ocp-packager/internal/version"
)

var (
	// ErrShortWrite is returned when fewer bytes than announced were written.
	ErrShortWrite = errors.New("download size mismatch")
	// errBadHTTPStatus is returned for any answer other than 200.
	errBadHTTPStatus = errors.New("unexpected http status")
)

// DefaultFileMode is used for downloaded archives.
const DefaultFileMode os.FileMode = 0o644

// Result describes a finished download.
type Result struct {
	// Path is where the archive was written.
	Path string
	// Size is the number of bytes written.
	Size int64
	// LastModified is the server-side date of the archive.
	LastModified time.Time
}

// Downloader streams remote files to disk.
type Downloader struct {
	// client performs the requests.
	client *http.Client
	// progress receives the progress bar, nil disables it.
	progress io.Writer
	// now is the fallback date when the server sends no Last-Modified header.
	now func() time.Time
}

// Option customizes a Downloader.
type Option func(*Downloader)

// WithProgress renders a progress bar on w during downloads.
func WithProgress(w io.Writer) Option {
	return func(d *Downloader) {
		d.progress = w
	}
}

// WithClock replaces time.Now as the Last-Modified fallback.
func WithClock(now func() time.Time) Option {
	return func(d *Downloader) {
		d.now = now
	}
}

// NewDownloader creates a Downloader using client.
func NewDownloader(client *http.Client, opts ...Option) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}

	d := &Downloader{
		client: client,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Download fetches url into dest, replacing any previous file.
// If the server announced a Content-Length, the written size must match it.
func (d *Downloader) Download(ctx context.Context, url, dest string) (*Result, error) {
	logger.InfoKV(ctx, "Downloading", "url", url, "path", dest)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", version.UserAgent())

	response, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s, %s: %w", url, response.Status, errBadHTTPStatus)
	}

	result := &Result{
		Path:         dest,
		LastModified: d.lastModified(ctx, response),
	}

	if err = os.MkdirAll(filepath.Dir(dest), 0o755); err != nil { //nolint:mnd // Plain directory mode.
		return nil, err
	}

	output, err := os.OpenFile(filepath.Clean(dest), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, DefaultFileMode)
	if err != nil {
		return nil, err
	}

	var sink io.Writer = output

	bar := newProgress(d.progress, response.ContentLength)
	if bar != nil {
		sink = io.MultiWriter(output, bar)
	}

	result.Size, err = io.Copy(sink, response.Body)
	bar.finish()

	if closeErr := output.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return nil, fmt.Errorf("write %s: %w", dest, err)
	}

	if response.ContentLength > 0 && result.Size != response.ContentLength {
		return nil, fmt.Errorf("wrote %d bytes to disk instead of the %d expected: %w",
			result.Size, response.ContentLength, ErrShortWrite)
	}

	logger.DebugKV(ctx, "Downloaded", "path", dest, "size", result.Size, "last_modified", result.LastModified)

	return result, nil
}

// lastModified parses the Last-Modified header, falling back to the clock.
func (d *Downloader) lastModified(ctx context.Context, response *http.Response) time.Time {
	header := response.Header.Get("Last-Modified")
	if header != "" {
		parsed, err := http.ParseTime(header)
		if err == nil {
			return parsed
		}

		logger.WarnKV(ctx, "Unparsable Last-Modified header", "value", header, "error", err)
	} else {
		logger.WarnKV(ctx, "No Last-Modified header, using the current time", "url", response.Request.URL.String())
	}

	return d.now()
}
