// Package watcher converts raw filesystem events into exactly one
// processing attempt per stable file. Event callbacks never block: all
// filtering beyond the cheap path checks, stabilization and import work
// happens inside a small fixed worker pool.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/your-org/medflow/internal/media"
	"github.com/your-org/medflow/internal/stability"
)

// Importer is the per-media-type import service the dispatcher hands
// stable files to.
type Importer interface {
	ImportAndAnonymize(ctx context.Context, path, centerID string, deleteSource bool) (*media.Record, error)
}

// Config sets up a Dispatcher.
type Config struct {
	// Inboxes maps each media type to the directory watched for it.
	Inboxes map[media.Type]string

	Workers             int
	QueueSize           int
	CenterID            string
	DeleteSource        bool
	HealthCheckInterval time.Duration
}

type task struct {
	path      string
	mediaType media.Type
}

// Dispatcher owns the fsnotify watch, the worker pool and the in-flight
// path set. Construct with NewDispatcher and drive with Run.
type Dispatcher struct {
	cfg       Config
	importers map[media.Type]Importer
	detector  *stability.Detector
	logger    *zap.Logger

	queue chan task

	mu       sync.Mutex
	inFlight map[string]struct{}
	attempts map[string]int

	fsw    *fsnotify.Watcher
	fswMu  sync.Mutex
	closed bool
}

// NewDispatcher builds a Dispatcher. The importers map must cover every
// inbox media type.
func NewDispatcher(cfg Config, importers map[media.Type]Importer, detector *stability.Detector, logger *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 10 * time.Second
	}
	return &Dispatcher{
		cfg:       cfg,
		importers: importers,
		detector:  detector,
		logger:    logger,
		queue:     make(chan task, cfg.QueueSize),
		inFlight:  make(map[string]struct{}),
		attempts:  make(map[string]int),
	}
}

// Run watches the inboxes until ctx is cancelled, then drains the worker
// pool before returning so no file is left quarantined without a finished
// record by a clean shutdown.
func (d *Dispatcher) Run(ctx context.Context) error {
	for t, dir := range d.cfg.Inboxes {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		d.logger.Info("watching inbox", zap.String("media_type", string(t)), zap.String("dir", dir))
	}

	if err := d.openWatch(); err != nil {
		return err
	}

	var workers sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for t := range d.queue {
				d.process(ctx, t)
			}
		}()
	}

	// Files dropped while the service was down are synthetic
	// already-discovered events.
	d.scanExisting()

	health := time.NewTicker(d.cfg.HealthCheckInterval)
	defer health.Stop()

loop:
	for {
		fsw := d.currentWatch()
		select {
		case <-ctx.Done():
			break loop
		case event, ok := <-fsw.Events:
			if !ok {
				d.restartWatch()
				continue
			}
			d.handleEvent(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				d.restartWatch()
				continue
			}
			d.logger.Warn("watch error", zap.Error(err))
		case <-health.C:
			d.healthCheck()
		}
	}

	d.closeWatch()
	close(d.queue)
	workers.Wait()
	d.logger.Info("dispatcher drained")
	return ctx.Err()
}

// handleEvent runs on the event loop and must return immediately. Only
// completed create/move events are considered; writes, chmods and removes
// are writer noise.
func (d *Dispatcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	d.enqueue(event.Name)
}

func (d *Dispatcher) enqueue(path string) {
	if ShouldIgnore(path) {
		return
	}

	mediaType, ok := d.classify(path)
	if !ok {
		return
	}

	select {
	case d.queue <- task{path: path, mediaType: mediaType}:
	default:
		// A full queue means a burst beyond pool capacity. Dropping is
		// safe: the file stays in the inbox and the next event or rescan
		// picks it up.
		d.logger.Warn("worker queue full, dropping event", zap.String("path", path))
	}
}

// classify matches the path's directory against the inboxes and its
// extension against the media type's accepted set.
func (d *Dispatcher) classify(path string) (media.Type, bool) {
	dir := filepath.Dir(path)
	for t, inbox := range d.cfg.Inboxes {
		if sameDir(dir, inbox) && extensionAllowed(t, path) {
			return t, true
		}
	}
	return "", false
}

func sameDir(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return aa == bb
}

// process runs inside a pool worker: idempotency guard, stabilization,
// import, and the retry-eligibility decision.
func (d *Dispatcher) process(ctx context.Context, t task) {
	abs, err := filepath.Abs(t.path)
	if err != nil {
		d.logger.Warn("resolve path", zap.String("path", t.path), zap.Error(err))
		return
	}

	if !d.claim(abs) {
		return
	}

	job := &media.Job{
		SourcePath:   abs,
		MediaType:    t.mediaType,
		State:        media.JobStabilizing,
		AttemptCount: d.bumpAttempts(abs),
	}
	log := d.logger.With(
		zap.String("path", abs),
		zap.String("media_type", string(t.mediaType)),
		zap.Int("attempt", job.AttemptCount),
	)

	if err := d.detector.WaitStable(ctx, abs); err != nil {
		switch {
		case errors.Is(err, media.ErrSourceVanished):
			// Claimed by a racing watcher; silent drop.
			d.forget(abs)
		case errors.Is(err, media.ErrFileUnstable):
			log.Warn("file not stable, will retry on next event")
			d.release(abs)
		default:
			d.release(abs)
		}
		return
	}

	job.State = media.JobDispatched
	record, err := d.importers[t.mediaType].ImportAndAnonymize(ctx, abs, d.cfg.CenterID, d.cfg.DeleteSource)
	if err != nil {
		job.LastError = err
		if media.Retryable(err) {
			job.State = media.JobRetryPending
			log.Error("import failed, retry eligible",
				zap.String("error_kind", media.Kind(err)), zap.Error(err))
			d.release(abs)
		} else {
			job.State = media.JobFatal
			log.Info("import skipped", zap.String("error_kind", media.Kind(err)))
			d.forget(abs)
		}
		return
	}

	job.State = media.JobSucceeded
	job.ContentHash = record.ContentHash
	d.forget(abs)
	log.Info("file processed", zap.String("record_id", record.ID))
}

// scanExisting treats every file already sitting in an inbox as an
// already-stable create event.
func (d *Dispatcher) scanExisting() {
	for t, dir := range d.cfg.Inboxes {
		entries, err := os.ReadDir(dir)
		if err != nil {
			d.logger.Warn("startup scan failed", zap.String("dir", dir), zap.Error(err))
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			d.enqueue(filepath.Join(dir, entry.Name()))
		}
		d.logger.Info("startup scan finished",
			zap.String("media_type", string(t)), zap.Int("entries", len(entries)))
	}
}

// healthCheck verifies every inbox is still covered by the OS watch and
// re-adds or rebuilds it when not. Watch handles can silently die under
// extreme event volume.
func (d *Dispatcher) healthCheck() {
	fsw := d.currentWatch()
	watched := make(map[string]bool)
	for _, dir := range fsw.WatchList() {
		watched[dir] = true
	}
	for _, dir := range d.cfg.Inboxes {
		if watched[dir] {
			continue
		}
		d.logger.Warn("inbox missing from watch, re-adding", zap.String("dir", dir))
		if err := fsw.Add(dir); err != nil {
			d.logger.Error("re-add failed, rebuilding watch", zap.Error(err))
			d.restartWatch()
			return
		}
	}
}

func (d *Dispatcher) openWatch() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, dir := range d.cfg.Inboxes {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return err
		}
	}
	d.fswMu.Lock()
	d.fsw = fsw
	d.fswMu.Unlock()
	return nil
}

func (d *Dispatcher) currentWatch() *fsnotify.Watcher {
	d.fswMu.Lock()
	defer d.fswMu.Unlock()
	return d.fsw
}

func (d *Dispatcher) restartWatch() {
	d.fswMu.Lock()
	if d.closed {
		d.fswMu.Unlock()
		return
	}
	old := d.fsw
	d.fswMu.Unlock()

	if old != nil {
		old.Close()
	}
	if err := d.openWatch(); err != nil {
		d.logger.Error("rebuild watch failed", zap.Error(err))
		return
	}
	d.logger.Info("watch rebuilt")
	// Events during the gap are invisible; rescan so nothing is lost.
	d.scanExisting()
}

func (d *Dispatcher) closeWatch() {
	d.fswMu.Lock()
	defer d.fswMu.Unlock()
	d.closed = true
	if d.fsw != nil {
		d.fsw.Close()
	}
}

// claim adds the path to the in-flight set; false means a worker already
// owns it and the duplicate event is dropped.
func (d *Dispatcher) claim(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inFlight[path]; busy {
		return false
	}
	d.inFlight[path] = struct{}{}
	return true
}

// release frees the path for a future retry attempt.
func (d *Dispatcher) release(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, path)
}

// forget frees the path and clears its attempt counter; used on terminal
// outcomes.
func (d *Dispatcher) forget(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, path)
	delete(d.attempts, path)
}

func (d *Dispatcher) bumpAttempts(path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts[path]++
	return d.attempts[path]
}
