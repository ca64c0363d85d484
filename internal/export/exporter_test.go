package export

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ssam-replicate/internal/blob"
	"github.com/example/ssam-replicate/internal/model"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	msgs   []string
}

func (r *recorder) ID() string { return "c1" }

func (r *recorder) Send(event string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if m, ok := data.(model.Message); ok {
		r.msgs = append(r.msgs, m.Msg)
	}
	return nil
}

var fixedNow = time.Date(2024, 3, 9, 14, 22, 34, 0, time.Local)

func newTestExporter(t *testing.T, dir string) *Exporter {
	t.Helper()
	e := New(blob.LocalFS{Root: dir}, nil, nil)
	e.now = func() time.Time { return fixedNow }
	return e
}

func TestFileName(t *testing.T) {
	name, err := FileName(fixedNow, "abc123", "https://host/path/img1.png")
	require.NoError(t, err)
	assert.Equal(t, "2024.03.09-14.22.34-abc123-img1.png", name)

	name, err = FileName(fixedNow, "", "https://host/path/img1.png?token=x")
	require.NoError(t, err)
	assert.Equal(t, "2024.03.09-14.22.34-img1.png", name)

	assert.Regexp(t, regexp.MustCompile(`^\d{4}\.\d{2}\.\d{2}-\d{2}\.\d{2}\.\d{2}-out\.webp$`), mustName(t, time.Now(), "", "https://x/out.webp"))
}

func mustName(t *testing.T, now time.Time, id, raw string) string {
	t.Helper()
	name, err := FileName(now, id, raw)
	require.NoError(t, err)
	return name
}

func TestFileNameMalformed(t *testing.T) {
	for _, raw := range []string{"not a url", "/relative/img.png", "http://[::1", ""} {
		_, err := FileName(fixedNow, "", raw)
		assert.ErrorIs(t, err, ErrMalformedURL, raw)
	}
}

func TestExportWritesFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/path/img1.png", r.URL.Path)
		_, _ = w.Write([]byte("PNGDATA"))
	}))
	defer srv.Close()

	dir := filepath.Join(t.TempDir(), "out")
	e := newTestExporter(t, dir)
	require.NoError(t, e.EnsureDir())

	c := &recorder{}
	err := e.Export(context.Background(), Request{URL: srv.URL + "/path/img1.png", Client: c, JobID: "abc123", Log: true})
	require.NoError(t, err)

	path := filepath.Join(dir, "2024.03.09-14.22.34-abc123-img1.png")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))

	require.Equal(t, []string{model.EventLog}, c.events)
	assert.True(t, strings.HasSuffix(c.msgs[0], "-abc123-img1.png exported"), c.msgs[0])
}

func TestExportSilentWhenLogDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	e := newTestExporter(t, dir)
	c := &recorder{}
	require.NoError(t, e.Export(context.Background(), Request{URL: srv.URL + "/a.png", Client: c}))

	assert.Empty(t, c.events)
	assert.FileExists(t, filepath.Join(dir, "2024.03.09-14.22.34-a.png"))
}

func TestExportMalformedURLSendsNothing(t *testing.T) {
	e := newTestExporter(t, t.TempDir())
	c := &recorder{}

	err := e.Export(context.Background(), Request{URL: "::nope", Client: c, Log: true})
	assert.ErrorIs(t, err, ErrMalformedURL)
	assert.Empty(t, c.events)
}

func TestExportBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	e := newTestExporter(t, dir)
	c := &recorder{}

	err := e.Export(context.Background(), Request{URL: srv.URL + "/img.png", Client: c, Log: true})
	var dlErr *DownloadError
	require.True(t, errors.As(err, &dlErr))
	assert.Equal(t, []string{model.EventWarn}, c.events)
	assert.Contains(t, c.msgs[0], "404")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExportStreamErrorLeavesPartialFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		_, _ = w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}))
	defer srv.Close()

	dir := t.TempDir()
	e := newTestExporter(t, dir)
	c := &recorder{}

	err := e.Export(context.Background(), Request{URL: srv.URL + "/big.mp4", Client: c, JobID: "j1", Log: true})
	var dlErr *DownloadError
	require.True(t, errors.As(err, &dlErr))
	assert.Equal(t, []string{model.EventWarn}, c.events)

	data, readErr := os.ReadFile(filepath.Join(dir, "2024.03.09-14.22.34-j1-big.mp4"))
	require.NoError(t, readErr)
	assert.Equal(t, "partial", string(data))
}

func TestEnsureDirFailureIsReported(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	e := newTestExporter(t, file)
	assert.Error(t, e.EnsureDir())
}
