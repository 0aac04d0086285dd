package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/domain"
)

type ingestorFake struct {
	mu    sync.Mutex
	paths []string
	calls chan string
	errs  map[string]error
}

func newIngestorFake() *ingestorFake {
	return &ingestorFake{calls: make(chan string, 16), errs: map[string]error{}}
}

func (f *ingestorFake) Process(ctx context.Context, path string) error {
	f.mu.Lock()
	f.paths = append(f.paths, path)
	err := f.errs[filepath.Base(path)]
	f.mu.Unlock()
	f.calls <- path
	return err
}

type listerFake struct {
	paths []string
	err   error
}

func (f listerFake) Unclaimed(context.Context) ([]string, error) {
	return f.paths, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startWatcher(t *testing.T, w *Watcher) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	select {
	case <-w.Ready():
	case err := <-errCh:
		t.Fatalf("Run() returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("watcher did not become ready")
	}
	t.Cleanup(cancelFn)
	return cancelFn, errCh
}

func waitCall(t *testing.T, f *ingestorFake) string {
	t.Helper()
	select {
	case path := <-f.calls:
		return path
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for dispatch")
		return ""
	}
}

func assertNoCall(t *testing.T, f *ingestorFake, wait time.Duration) {
	t.Helper()
	select {
	case path := <-f.calls:
		t.Fatalf("unexpected dispatch of %s", path)
	case <-time.After(wait):
	}
}

func TestNewRejectsInvalidDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	for name, dir := range map[string]string{
		"missing": filepath.Join(t.TempDir(), "missing"),
		"file":    file,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New(dir, newIngestorFake(), Options{})
			require.True(t, domain.IsKind(err, domain.ErrConfiguration), "got %v", err)
		})
	}
}

func TestRunDispatchesOnlyXMLFiles(t *testing.T) {
	dir := t.TempDir()
	ingestor := newIngestorFake()
	w, err := New(dir, ingestor, Options{Logger: quietLogger()})
	require.NoError(t, err)
	startWatcher(t, w)
	assert.Equal(t, StateRunning, w.State())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "folder.xml"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nfe_1.XML"), []byte("<a/>"), 0o644))

	assert.Equal(t, filepath.Join(dir, "nfe_1.XML"), waitCall(t, ingestor))
	assertNoCall(t, ingestor, 200*time.Millisecond)
}

func TestRunKeepsWatchingAfterProcessingError(t *testing.T) {
	dir := t.TempDir()
	ingestor := newIngestorFake()
	ingestor.errs["bad.xml"] = errors.New("extract invoice fields: parse failed")
	w, err := New(dir, ingestor, Options{Logger: quietLogger()})
	require.NoError(t, err)
	startWatcher(t, w)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.xml"), []byte("<a>"), 0o644))
	assert.Equal(t, filepath.Join(dir, "bad.xml"), waitCall(t, ingestor))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.xml"), []byte("<a/>"), 0o644))
	assert.Equal(t, filepath.Join(dir, "good.xml"), waitCall(t, ingestor))
}

func TestRunReconcilesWaitingFilesFirst(t *testing.T) {
	dir := t.TempDir()
	waiting := []string{filepath.Join(dir, "a.xml"), filepath.Join(dir, "b.xml")}
	for _, p := range waiting {
		require.NoError(t, os.WriteFile(p, []byte("<a/>"), 0o644))
	}

	ingestor := newIngestorFake()
	var reconciled int
	w, err := New(dir, ingestor, Options{
		Lister:       listerFake{paths: waiting},
		Reconcile:    true,
		Logger:       quietLogger(),
		OnReconciled: func(n int) { reconciled = n },
	})
	require.NoError(t, err)
	startWatcher(t, w)

	assert.Equal(t, waiting[0], waitCall(t, ingestor))
	assert.Equal(t, waiting[1], waitCall(t, ingestor))
	assert.Equal(t, 2, reconciled)
}

func TestRunSkipsReconciliationWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	ingestor := newIngestorFake()
	w, err := New(dir, ingestor, Options{
		Lister: listerFake{paths: []string{filepath.Join(dir, "a.xml")}},
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	startWatcher(t, w)

	assertNoCall(t, ingestor, 100*time.Millisecond)
}

func TestRunStopsOnCancel(t *testing.T) {
	w, err := New(t.TempDir(), newIngestorFake(), Options{Logger: quietLogger()})
	require.NoError(t, err)
	cancel, done := startWatcher(t, w)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("Run() did not return after cancel")
	}
	assert.Equal(t, StateStopped, w.State())

	err = w.Run(context.Background())
	require.Error(t, err, "a watcher runs once")
}
