// Package spool watches a directory for job files and hands the parsed jobs
// to the host loop. A file is claimed by moving it into done/ before it is
// read, so each file is processed once; files that fail to parse end up in
// rejected/. Writers should create files under another name and rename them
// into place.
package spool

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/taskhost/internal/log"
)

const (
	doneDir     = "done"
	rejectedDir = "rejected"
	jobsBuffer  = 16
)

// Config holds watcher configuration options.
type Config struct {
	Dir         string
	DebounceDur time.Duration
}

// DefaultConfig returns sensible defaults for the watcher.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:         dir,
		DebounceDur: 100 * time.Millisecond,
	}
}

// Watcher monitors a spool directory and emits the jobs it finds.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	dir       string
	debounce  time.Duration
	jobs      chan Job
	done      chan struct{}
	stopOnce  sync.Once
}

// New creates the spool directory layout and a watcher for it.
func New(cfg Config) (*Watcher, error) {
	for _, d := range []string{cfg.Dir, filepath.Join(cfg.Dir, doneDir), filepath.Join(cfg.Dir, rejectedDir)} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return nil, fmt.Errorf("creating spool directory: %w", err)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsWatcher: fsw,
		dir:       cfg.Dir,
		debounce:  cfg.DebounceDur,
		jobs:      make(chan Job, jobsBuffer),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching. Files already in the directory are picked up
// first. The returned channel is never closed; stop reading after Stop.
func (w *Watcher) Start() (<-chan Job, error) {
	if err := w.fsWatcher.Add(w.dir); err != nil {
		return nil, fmt.Errorf("watching directory %s: %w", w.dir, err)
	}

	go w.loop()

	return w.jobs, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
	})
	return err
}

// loop processes file system events with debouncing.
func (w *Watcher) loop() {
	if !w.scan() {
		return
	}

	var (
		timer   *time.Timer
		pending bool
	)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !isJobEvent(event) {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			pending = true

		case <-func() <-chan time.Time {
			if timer != nil {
				return timer.C
			}
			return nil
		}():
			if pending {
				pending = false
				if !w.scan() {
					return
				}
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatSpool, "Spool watcher error", err, "dir", w.dir)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// scan claims every job file in the directory in name order. It returns
// false once the watcher is stopped.
func (w *Watcher) scan() bool {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		log.ErrorErr(log.CatSpool, "Failed to read spool directory", err, "dir", w.dir)
		return true
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && isJobFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		jobs := w.claim(name)
		for _, j := range jobs {
			select {
			case w.jobs <- j:
			case <-w.done:
				return false
			}
		}
	}
	return true
}

func (w *Watcher) claim(name string) []Job {
	src := filepath.Join(w.dir, name)
	claimed := filepath.Join(w.dir, doneDir, name)
	if err := os.Rename(src, claimed); err != nil {
		// Another watcher took it, or it vanished.
		log.Debug(log.CatSpool, "Job file not claimed", "path", src, "error", err)
		return nil
	}

	data, err := os.ReadFile(claimed) //nolint:gosec // G304: file inside the spool directory
	if err == nil {
		var jobs []Job
		jobs, err = ParseJobs(data)
		if err == nil {
			for i := range jobs {
				jobs[i].Source = name
			}
			log.Info(log.CatSpool, "Job file picked up", "file", name, "jobs", len(jobs))
			return jobs
		}
	}

	log.ErrorErr(log.CatSpool, "Job file rejected", err, "file", name)
	if rerr := os.Rename(claimed, filepath.Join(w.dir, rejectedDir, name)); rerr != nil {
		log.ErrorErr(log.CatSpool, "Failed to move rejected job file", rerr, "file", name)
	}
	return nil
}

func isJobFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

// isJobEvent checks if the event may have produced a job file.
func isJobEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	return isJobFile(filepath.Base(event.Name))
}
