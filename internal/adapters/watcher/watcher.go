// Package watcher feeds XML files dropped into a directory to the ingestion
// pipeline, one file at a time.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/domain"
	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/ports"
)

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

type Options struct {
	// Lister supplies files already waiting when the watcher starts.
	Lister ports.InboxLister
	// Reconcile enables the startup pass over Lister.
	Reconcile    bool
	Logger       *slog.Logger
	OnReconciled func(count int)
}

type Watcher struct {
	dir          string
	ingestor     ports.InvoiceIngestor
	lister       ports.InboxLister
	reconcile    bool
	logger       *slog.Logger
	onReconciled func(int)

	mu      sync.Mutex
	state   State
	started bool
	ready   chan struct{}
}

// New fails with domain.ErrConfiguration when dir is not an existing directory.
func New(dir string, ingestor ports.InvoiceIngestor, opts Options) (*Watcher, error) {
	if ingestor == nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "new watcher", errors.New("ingestor is nil"))
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "new watcher", err)
	}
	if !info.IsDir() {
		return nil, domain.WrapError(domain.ErrConfiguration, "new watcher", fmt.Errorf("%s is not a directory", dir))
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:          dir,
		ingestor:     ingestor,
		lister:       opts.Lister,
		reconcile:    opts.Reconcile && opts.Lister != nil,
		logger:       logger,
		onReconciled: opts.OnReconciled,
		state:        StateIdle,
		ready:        make(chan struct{}),
	}, nil
}

// Ready is closed once the directory watch is registered and the startup
// reconciliation finished.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Run blocks until ctx is cancelled. Files are processed synchronously in
// arrival order; a file already in progress at cancellation is finished.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("watcher already started")
	}
	w.started = true
	w.mu.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return domain.WrapError(domain.ErrConfiguration, "watch "+w.dir, err)
	}

	w.setState(StateRunning)
	defer w.setState(StateStopped)
	w.logger.Info("watcher_started", "dir", w.dir)

	if w.reconcile {
		w.reconcileInbox(ctx)
	}
	close(w.ready)

	for {
		select {
		case <-ctx.Done():
			w.setState(StateStopping)
			w.logger.Info("watcher_stopping", "dir", w.dir)
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher_error", "dir", w.dir, "error", err)
		}
	}
}

func (w *Watcher) reconcileInbox(ctx context.Context) {
	paths, err := w.lister.Unclaimed(ctx)
	if err != nil {
		w.logger.Error("reconcile_list_failed", "dir", w.dir, "error", err)
		return
	}
	if w.onReconciled != nil {
		w.onReconciled(len(paths))
	}
	if len(paths) > 0 {
		w.logger.Info("reconcile_pending_files", "dir", w.dir, "count", len(paths))
	}
	for _, path := range paths {
		if ctx.Err() != nil {
			return
		}
		w.dispatch(ctx, path)
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) || !domain.IsXMLFile(event.Name) {
		return
	}
	info, err := os.Lstat(event.Name)
	if err != nil {
		// Already archived by the reconciliation pass, or removed by the producer.
		w.logger.Debug("watcher_file_gone", "path", event.Name, "error", err)
		return
	}
	if !info.Mode().IsRegular() {
		return
	}
	w.dispatch(ctx, event.Name)
}

func (w *Watcher) dispatch(ctx context.Context, path string) {
	if err := w.ingestor.Process(context.WithoutCancel(ctx), path); err != nil {
		w.logger.Warn("invoice_ingest_failed", "path", path, "error", err)
	}
}
