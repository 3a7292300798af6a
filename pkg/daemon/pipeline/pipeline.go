// Package pipeline coordinates the file-arrival-to-upload flow: watcher
// events feed per-file settle timers, settled files are dispatched to a
// bounded pool of upload workers, and uploaded files are archived.
package pipeline

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Byukusenge-Andrew/IoT-Image-Monitor/pkg/daemon/archiver"
	"github.com/Byukusenge-Andrew/IoT-Image-Monitor/pkg/daemon/journal"
	"github.com/Byukusenge-Andrew/IoT-Image-Monitor/pkg/daemon/settle"
	"github.com/Byukusenge-Andrew/IoT-Image-Monitor/pkg/daemon/tracker"
	"github.com/Byukusenge-Andrew/IoT-Image-Monitor/pkg/daemon/uploader"
	"github.com/Byukusenge-Andrew/IoT-Image-Monitor/pkg/daemon/watcher"
	"github.com/Byukusenge-Andrew/IoT-Image-Monitor/pkg/monitor/logging"
)

// maxRetryBackoff caps the exponential backoff between upload attempts.
const maxRetryBackoff = 5 * time.Minute

// readyQueueSize bounds the dispatch queue between settle timers and the
// worker pool.
const readyQueueSize = 128

// Config holds the pipeline's timing and retry policy.
type Config struct {
	SettleDelay  time.Duration
	ScanInterval time.Duration // 0 disables the reconciliation scan
	MaxAttempts  int
	RetryBackoff time.Duration
	Concurrency  int
}

// Pipeline owns the tracked-file registry; every state transition flows
// through it, so per-path mutation is serialized and a settle timer firing
// cannot race a concurrent filesystem event.
type Pipeline struct {
	cfg      Config
	registry *tracker.Registry
	watcher  *watcher.Watcher
	settler  *settle.Scheduler
	uploader uploader.Uploader
	archiver *archiver.Archiver
	journal  *journal.Journal

	ready    chan string
	shutdown chan struct{}
	wg       sync.WaitGroup

	retryMu     sync.Mutex
	retryTimers map[string]*time.Timer

	log *logging.Logger
}

// New wires a pipeline from its components. The journal may be nil, in
// which case terminal outcomes are logged but not persisted.
func New(cfg Config, w *watcher.Watcher, u uploader.Uploader, a *archiver.Archiver, j *journal.Journal) *Pipeline {
	p := &Pipeline{
		cfg:         cfg,
		registry:    tracker.NewRegistry(),
		watcher:     w,
		uploader:    u,
		archiver:    a,
		journal:     j,
		ready:       make(chan string, readyQueueSize),
		shutdown:    make(chan struct{}),
		retryTimers: make(map[string]*time.Timer),
		log:         logging.Get("pipeline"),
	}
	p.settler = settle.NewScheduler(cfg.SettleDelay, p.onSettled)
	return p
}

// Registry exposes the tracked-file registry for inspection.
func (p *Pipeline) Registry() *tracker.Registry {
	return p.registry
}

// Run subscribes the watcher, performs the startup scan, starts the upload
// workers, and drains filesystem events until the context is cancelled.
// In-flight uploads are allowed to finish; pending settle timers are
// abandoned and re-discovered by the scan on the next start.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.watcher.Start(ctx); err != nil {
		return err
	}

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	// Recover files that arrived while the process was down.
	if err := p.scan(); err != nil {
		p.log.Warn("startup scan failed", "error", err)
	}

	if p.cfg.ScanInterval > 0 {
		p.wg.Add(1)
		go p.reconcileLoop(ctx)
	}

	p.watcher.Run(ctx, p.handleEvent)

	close(p.shutdown)
	p.settler.Close()
	p.cancelRetries()
	p.wg.Wait()

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// handleEvent processes one watcher event. Events for the same path arrive
// in order on the watcher goroutine.
func (p *Pipeline) handleEvent(ev watcher.Event) {
	switch ev.Op {
	case watcher.OpRemove:
		f, ok := p.registry.Get(ev.Path)
		if !ok {
			return
		}
		if f.State == tracker.StateSettling || f.State == tracker.StatePending {
			p.settler.Cancel(ev.Path)
			p.cancelRetry(ev.Path)
			p.registry.Remove(ev.Path)
			p.log.Debug("file removed before dispatch, dropped", "path", ev.Path)
		}

	case watcher.OpCreate, watcher.OpWrite:
		p.observe(ev.Path, true)
	}
}

// observe records a write for a path and (re)arms its settle timer. Live
// events also clear any stale failure record, since a rewrite means the
// producer or operator is retrying the file.
func (p *Pipeline) observe(path string, live bool) {
	_, armed := p.registry.Observe(path, time.Now())
	if !armed {
		return
	}

	p.cancelRetry(path)
	p.settler.Arm(path)

	if live && p.journal != nil {
		if err := p.journal.ClearFailure(path); err != nil {
			p.log.Warn("failed to clear journal failure", "path", path, "error", err)
		}
	}
}

// scan walks the watch directory and tracks qualifying files that are not
// already in flight. Files with a recorded terminal failure are left for
// the operator rather than retried on every restart.
func (p *Pipeline) scan() error {
	return p.watcher.Scan(func(ev watcher.Event) {
		if _, tracked := p.registry.Get(ev.Path); tracked {
			return
		}
		if p.journal != nil {
			failed, err := p.journal.HasFailure(ev.Path)
			if err != nil {
				p.log.Warn("journal lookup failed", "path", ev.Path, "error", err)
			} else if failed {
				p.log.Debug("skipping previously failed file", "path", ev.Path)
				return
			}
		}
		p.observe(ev.Path, false)
	})
}

// reconcileLoop rescans the directory periodically as a backstop for
// filesystem notifications the OS dropped.
func (p *Pipeline) reconcileLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.scan(); err != nil {
				p.log.Warn("reconciliation scan failed", "error", err)
			}
		}
	}
}

// onSettled fires when a path's quiet period elapses without further writes.
func (p *Pipeline) onSettled(path string, settledAt time.Time) {
	if _, err := os.Lstat(path); err != nil {
		// Producer cleanup or rename-away during the settle window.
		p.registry.Remove(path)
		p.log.Debug("file vanished during settle, dropped", "path", path)
		return
	}

	if _, err := p.registry.MarkReady(path, settledAt); err != nil {
		p.log.Debug("stale settle timer ignored", "path", path, "error", err)
		return
	}

	p.enqueue(path)
}

// enqueue hands a ready path to the worker pool.
func (p *Pipeline) enqueue(path string) {
	select {
	case p.ready <- path:
	case <-p.shutdown:
	}
}

// worker uploads ready files until shutdown.
func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case path := <-p.ready:
			p.process(ctx, path)
		}
	}
}

// process performs one upload attempt for a path and routes the outcome.
func (p *Pipeline) process(ctx context.Context, path string) {
	f, err := p.registry.BeginUpload(path)
	if err != nil {
		// The file was modified or removed after it was queued.
		p.log.Debug("dispatch skipped", "path", path, "error", err)
		return
	}

	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}

	uploadErr := p.uploader.Upload(ctx, path)
	if uploadErr == nil {
		p.complete(path, f.Attempts, size)
		return
	}

	switch uploader.Classify(uploadErr) {
	case uploader.ClassPermanent:
		p.fail(path, f.Attempts, size, uploadErr)
	default:
		if f.Attempts >= p.cfg.MaxAttempts {
			p.fail(path, f.Attempts, size, uploadErr)
			return
		}
		if _, err := p.registry.Requeue(path); err != nil {
			p.log.Warn("requeue failed", "path", path, "error", err)
			return
		}
		backoff := p.backoff(f.Attempts)
		p.log.Warn("upload failed, will retry",
			"path", path, "attempt", f.Attempts, "backoff", backoff, "error", uploadErr)
		p.scheduleRetry(path, backoff)
	}
}

// complete archives an uploaded file, journals it, and drops it from
// tracking. An archive failure is terminal: the file already uploaded, but
// leaving it in the watch directory would re-upload it forever.
func (p *Pipeline) complete(path string, attempts int, size int64) {
	if _, err := p.registry.MarkUploaded(path); err != nil {
		p.log.Warn("mark uploaded failed", "path", path, "error", err)
		return
	}

	dest, err := p.archiver.Archive(path)
	if err != nil {
		p.log.Error("archive move failed, file left in place",
			"path", path, "error", err)
		p.fail(path, attempts, size, err)
		return
	}

	if p.journal != nil {
		rec := journal.Record{Path: path, ArchivePath: dest, Size: size, Attempts: attempts}
		if err := p.journal.RecordUpload(rec); err != nil {
			p.log.Warn("failed to journal upload", "path", path, "error", err)
		}
	}

	p.registry.Remove(path)
	p.log.Info("uploaded and archived",
		"path", path, "dest", dest, "size", humanize.Bytes(uint64(size)), "attempts", attempts)
}

// fail marks a terminal failure. The file stays on disk for manual
// recovery; only the registry entry is disposed of.
func (p *Pipeline) fail(path string, attempts int, size int64, cause error) {
	if _, err := p.registry.MarkFailed(path); err != nil {
		p.log.Warn("mark failed failed", "path", path, "error", err)
	}

	if p.journal != nil {
		rec := journal.Record{Path: path, Size: size, Attempts: attempts, Error: cause.Error()}
		if err := p.journal.RecordFailure(rec); err != nil {
			p.log.Warn("failed to journal failure", "path", path, "error", err)
		}
	}

	p.registry.Remove(path)
	p.log.Error("file failed permanently, left on disk",
		"path", path, "attempts", attempts, "error", cause)
}

// backoff computes the exponential retry delay after the given attempt
// number, capped at maxRetryBackoff.
func (p *Pipeline) backoff(attempt int) time.Duration {
	d := p.cfg.RetryBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}
	if d > maxRetryBackoff {
		d = maxRetryBackoff
	}
	return d
}

// scheduleRetry re-queues a path after its backoff. Modeled as a timer
// plus explicit state rather than a sleeping worker, so a slow retry
// cannot stall the pool.
func (p *Pipeline) scheduleRetry(path string, backoff time.Duration) {
	p.retryMu.Lock()
	defer p.retryMu.Unlock()

	if timer, ok := p.retryTimers[path]; ok {
		timer.Stop()
	}

	p.retryTimers[path] = time.AfterFunc(backoff, func() {
		p.retryMu.Lock()
		delete(p.retryTimers, path)
		p.retryMu.Unlock()

		if _, err := p.registry.Retry(path); err != nil {
			// A write event during the backoff put the file back into
			// settling; the settle timer owns it now.
			p.log.Debug("retry superseded", "path", path, "error", err)
			return
		}
		p.enqueue(path)
	})
}

// cancelRetry stops the pending retry timer for a path, if any.
func (p *Pipeline) cancelRetry(path string) {
	p.retryMu.Lock()
	defer p.retryMu.Unlock()

	if timer, ok := p.retryTimers[path]; ok {
		timer.Stop()
		delete(p.retryTimers, path)
	}
}

// cancelRetries stops all pending retry timers at shutdown.
func (p *Pipeline) cancelRetries() {
	p.retryMu.Lock()
	defer p.retryMu.Unlock()

	for path, timer := range p.retryTimers {
		timer.Stop()
		delete(p.retryTimers, path)
	}
}
