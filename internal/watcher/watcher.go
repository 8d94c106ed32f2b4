// Package watcher feeds submission files dropped into a directory through the
// completion gate.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/callscore/internal/assembler"
	"github.com/Veraticus/callscore/internal/config"
	"github.com/Veraticus/callscore/internal/gate"
	"github.com/Veraticus/callscore/internal/model"
	"github.com/Veraticus/callscore/internal/pipeline"
	"github.com/fsnotify/fsnotify"
)

// SessionProcessor classifies one complete session.
type SessionProcessor interface {
	ProcessSession(ctx context.Context, sessionID string, raws []model.RawSubmission) pipeline.Result
}

type stamp struct {
	modTime time.Time
	size    int64
}

// Watcher tracks every submission seen per session and runs the processor
// once the gate reports a session complete.
type Watcher struct {
	parser      *assembler.Parser
	processor   SessionProcessor
	gate        *gate.Gate
	seen        map[string]stamp
	pending     map[string]struct{}
	submissions map[string][]model.RawSubmission
	dir         string
	wg          sync.WaitGroup
	settle      time.Duration
	poll        time.Duration
	arrival     int64
	mu          sync.Mutex
}

// New creates a watcher for cfg.Paths.DataDir. gateOpts are passed to the
// underlying gate, for example gate.WithStore.
func New(cfg *config.Config, processor SessionProcessor, gateOpts ...gate.Option) *Watcher {
	w := &Watcher{
		parser:      assembler.NewParser(cfg.Assembly),
		processor:   processor,
		seen:        make(map[string]stamp),
		pending:     make(map[string]struct{}),
		submissions: make(map[string][]model.RawSubmission),
		dir:         cfg.Paths.DataDir,
		settle:      cfg.Pipeline.SettleTimeout,
		poll:        cfg.Pipeline.PollInterval,
	}
	if w.poll <= 0 {
		w.poll = 500 * time.Millisecond
	}
	w.gate = gate.NewFromConfig(cfg, w.trigger, gateOpts...)
	return w
}

// Gate exposes the completion gate for status, Rerun and Reset.
func (w *Watcher) Gate() *gate.Gate {
	return w.gate
}

// Run scans existing files, then handles new and modified files until ctx is
// cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0750); err != nil {
		return fmt.Errorf("failed to create watch directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	if _, err := w.Scan(ctx); err != nil {
		return err
	}
	slog.Info("watching for submissions", "dir", w.dir)

	defer w.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isSubmission(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("file watcher error", "error", err)
		}
	}
}

// Scan handles every submission already present in the directory, in name
// order, and returns how many files were accepted. All files are recorded
// before any reaches the gate, so a session that becomes ready during the
// scan runs with every submission on disk.
func (w *Watcher) Scan(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read directory %s: %w", w.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isSubmission(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var pending []model.RawSubmission
	accepted := 0
	for _, name := range names {
		raws, err := w.ingest(filepath.Join(w.dir, name))
		if err != nil {
			slog.Warn("skipping submission", "file", name, "error", err)
			continue
		}
		pending = append(pending, raws...)
		accepted++
	}
	if err := w.deliver(ctx, pending); err != nil {
		return accepted, err
	}
	return accepted, nil
}

// schedule waits for path to settle in the background. Repeated events for a
// path already waiting are coalesced.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	if _, busy := w.pending[path]; busy {
		w.mu.Unlock()
		return
	}
	w.pending[path] = struct{}{}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.pending, path)
			w.mu.Unlock()
		}()

		if err := w.waitForSettle(ctx, path); err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Warn("submission did not settle", "file", path, "error", err)
			}
			return
		}
		if err := w.HandleFile(ctx, path); err != nil {
			slog.Warn("skipping submission", "file", path, "error", err)
		}
	}()
}

// waitForSettle returns once the file size is non-zero and unchanged across
// two polls. After the settle timeout the file is used as it is.
func (w *Watcher) waitForSettle(ctx context.Context, path string) error {
	var deadline <-chan time.Time
	if w.settle > 0 {
		timer := time.NewTimer(w.settle)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	last := int64(-1)
	for {
		info, err := os.Stat(path)
		if err == nil {
			if info.Size() > 0 && info.Size() == last {
				return nil
			}
			last = info.Size()
		} else if !os.IsNotExist(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			slog.Warn("settle timeout reached, reading file anyway", "file", path)
			return nil
		case <-ticker.C:
		}
	}
}

// HandleFile parses one file, records its submissions with fresh arrival
// ordinals and passes each to the gate. Unchanged files are ignored.
func (w *Watcher) HandleFile(ctx context.Context, path string) error {
	raws, err := w.ingest(path)
	if err != nil {
		return err
	}
	return w.deliver(ctx, raws)
}

// ingest parses path and records its submissions. It returns nothing for a
// file whose size and modification time are unchanged since the last read.
func (w *Watcher) ingest(path string) ([]model.RawSubmission, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	st := stamp{modTime: info.ModTime(), size: info.Size()}

	w.mu.Lock()
	if prev, ok := w.seen[path]; ok && prev == st {
		w.mu.Unlock()
		return nil, nil
	}
	w.mu.Unlock()

	data, err := os.ReadFile(path) //nolint:gosec // path is inside the watched directory
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	raws, err := w.parser.ParseDocument(path, data, "")
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen[path] = st
	for i := range raws {
		w.arrival++
		raws[i].Arrival = w.arrival
		w.record(raws[i])
	}
	return raws, nil
}

func (w *Watcher) deliver(ctx context.Context, raws []model.RawSubmission) error {
	for _, raw := range raws {
		if raw.SessionID == model.UnknownSessionID {
			slog.Warn("submission has no session id, not gating", "file", raw.Source)
			continue
		}
		tr, err := w.gate.Receive(ctx, raw.SessionID, raw.TaskType)
		if err != nil {
			return err
		}
		slog.Info("submission accepted",
			"file", raw.Source,
			"session_id", raw.SessionID,
			"task_type", raw.TaskType,
			"state", tr.To,
			"triggered", tr.Triggered)
	}
	return nil
}

// record keeps the latest version of each (source, task type) per session.
// The caller holds w.mu.
func (w *Watcher) record(raw model.RawSubmission) {
	list := w.submissions[raw.SessionID]
	for i, existing := range list {
		if existing.Source == raw.Source && existing.TaskType == raw.TaskType {
			list[i] = raw
			return
		}
	}
	w.submissions[raw.SessionID] = append(list, raw)
}

// Submissions returns a copy of the submissions recorded for a session.
func (w *Watcher) Submissions(sessionID string) []model.RawSubmission {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]model.RawSubmission(nil), w.submissions[sessionID]...)
}

func (w *Watcher) trigger(ctx context.Context, sessionID string) error {
	res := w.processor.ProcessSession(ctx, sessionID, w.Submissions(sessionID))
	if res.Failed() {
		return errors.New(res.Error)
	}
	return nil
}

func isSubmission(name string) bool {
	base := filepath.Base(name)
	return strings.EqualFold(filepath.Ext(base), ".json") && !strings.HasPrefix(base, ".")
}
