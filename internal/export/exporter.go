// Package export saves generated files from their remote URLs into the
// output directory.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/ssam-replicate/internal/blob"
	"github.com/example/ssam-replicate/internal/hub"
	"github.com/example/ssam-replicate/internal/notify"
)

// TimestampLayout formats local time as YYYY.MM.DD-HH.MM.SS.
const TimestampLayout = "2006.01.02-15.04.05"

var ErrMalformedURL = errors.New("malformed output url")

// DownloadError is a network or disk failure while streaming one file.
type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

type Request struct {
	URL    string
	Client hub.Client
	// JobID is added to the file name when set.
	JobID string
	// Log mirrors the outcome to the client.
	Log bool
}

type Exporter struct {
	blobs blob.LocalFS
	http  *http.Client
	log   *slog.Logger
	now   func() time.Time
}

func New(blobs blob.LocalFS, httpClient *http.Client, logger *slog.Logger) *Exporter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		blobs: blobs,
		http:  httpClient,
		log:   logger,
		now:   time.Now,
	}
}

func (e *Exporter) Dir() string { return e.blobs.Root }

// EnsureDir creates the output directory if needed. Failures are only
// logged here; the returned error is informational.
func (e *Exporter) EnsureDir() error {
	created, err := e.blobs.EnsureRoot()
	if err != nil {
		e.log.Error("create output directory", "dir", e.blobs.Root, "error", err)
		return err
	}
	if created {
		abs, _ := e.blobs.Abs(".")
		e.log.Info("created a new directory at " + abs)
	}
	return nil
}

// Export downloads req.URL into the output directory. A malformed URL is
// returned as ErrMalformedURL without notifying the client; download
// failures are reported to the client and returned as *DownloadError.
// A partially written file is left in place.
func (e *Exporter) Export(ctx context.Context, req Request) error {
	name, err := FileName(e.now(), req.JobID, req.URL)
	if err != nil {
		return err
	}

	n := notify.Notifier{Log: e.log, ClientLog: req.Log}
	abs, err := e.download(ctx, req.URL, name)
	if err != nil {
		n.Warn(req.Client, err.Error(), "url", req.URL)
		return err
	}
	n.Info(req.Client, abs+" exported", "url", req.URL)
	return nil
}

func (e *Exporter) download(ctx context.Context, rawURL, name string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &DownloadError{URL: rawURL, Err: err}
	}
	resp, err := e.http.Do(httpReq)
	if err != nil {
		return "", &DownloadError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &DownloadError{URL: rawURL, Err: fmt.Errorf("status %s", resp.Status)}
	}

	f, abs, err := e.blobs.Create(name)
	if err != nil {
		return "", &DownloadError{URL: rawURL, Err: err}
	}
	_, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		return abs, &DownloadError{URL: rawURL, Err: copyErr}
	}
	if closeErr != nil {
		return abs, &DownloadError{URL: rawURL, Err: closeErr}
	}
	return abs, nil
}

// FileName builds "<timestamp>-[<jobID>-]<basename>" for rawURL, where
// basename is the last segment of the URL path.
func FileName(now time.Time, jobID, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not absolute", ErrMalformedURL, rawURL)
	}
	base := u.Path[strings.LastIndex(u.Path, "/")+1:]

	parts := []string{now.Local().Format(TimestampLayout)}
	if jobID != "" {
		parts = append(parts, jobID)
	}
	parts = append(parts, base)
	return strings.Join(parts, "-"), nil
}
