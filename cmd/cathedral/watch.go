package main

import (
	"os"
	"os/signal"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/cathedral-fabric/fabric/internal/bundle"
	"github.com/cathedral-fabric/fabric/internal/eventlog"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
)

// watchEventsFile watches dir for writes to its events.cath-log file,
// invoking onGrowth after each one, until the process receives an
// interrupt. There is no long-running daemon in this single-process
// reference implementation to push updates from (spec §1), so `--watch`
// observes a bundle directory the same way the teacher's decorator
// file-watchers do: by tailing the path itself for mutation, grounded on
// the teacher's own fsnotify-backed watch support.
func watchEventsFile(dir string, onGrowth func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return kerr.Wrap(kerr.StorageError, "create bundle watcher", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return kerr.Wrap(kerr.StorageError, "watch bundle dir", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	target := filepath.Join(dir, bundle.EventsFileName)

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := onGrowth(); err != nil {
				return err
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return kerr.Wrap(kerr.StorageError, "bundle watcher", werr)
		case <-sigCh:
			return nil
		}
	}
}

// readEventsTail reads and parses dir's events.cath-log directly (not
// through bundle.Open, whose manifest hash was computed once against the
// file's length at bundle-write time and would never match a file still
// growing underneath a watcher). It does not validate the hash chain;
// callers run Validate on the returned log.
func readEventsTail(dir string) (*eventlog.Log, error) {
	f, err := os.Open(filepath.Join(dir, bundle.EventsFileName))
	if err != nil {
		return nil, kerr.Wrap(kerr.StorageError, "open events log", err)
	}
	defer f.Close()
	log, err := eventlog.ReadFrom(f)
	if err != nil {
		return nil, err
	}
	return log, nil
}
