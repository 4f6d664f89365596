package catalog

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"flightplan/internal/logging"

	"github.com/cespare/xxhash/v2"
	"github.com/rjeczalik/notify"
)

// DefaultDebounce groups the burst of events an editor produces on save.
const DefaultDebounce = 300 * time.Millisecond

// Watch re-imports paths whenever one of them changes, until ctx is done.
// Events are debounced and a save that leaves every file's content
// unchanged does not trigger an import. onImport receives the result of
// each import.
func Watch(ctx context.Context, st Store, paths []string, debounce time.Duration, onImport func(Summary, error)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watched := map[string]bool{}
	names := map[string]bool{}
	dirs := map[string]bool{}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		watched[abs] = true
		names[filepath.Base(abs)] = true
		dirs[filepath.Dir(abs)] = true
	}

	events := make(chan notify.EventInfo, 100)
	for dir := range dirs {
		if err := notify.Watch(dir, events, notify.Write, notify.Create, notify.Rename, notify.Remove); err != nil {
			notify.Stop(events)
			return err
		}
		logging.Debug("watching catalog directory", map[string]interface{}{"dir": dir})
	}
	defer notify.Stop(events)

	hashes := fingerprint(paths)
	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev := <-events:
			if ev == nil {
				continue
			}
			if !watched[ev.Path()] && !names[filepath.Base(ev.Path())] {
				continue
			}
			timer.Reset(debounce)
		case <-timer.C:
			current := fingerprint(paths)
			if sameFingerprint(hashes, current) {
				continue
			}
			hashes = current
			sum, err := ImportFiles(st, paths...)
			if err != nil {
				logging.Warn("catalog re-import failed", map[string]interface{}{"error": err.Error()})
			}
			if onImport != nil {
				onImport(sum, err)
			}
		}
	}
}

// fingerprint hashes the content of each path. Unreadable files hash to 0.
func fingerprint(paths []string) map[string]uint64 {
	out := make(map[string]uint64, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			out[p] = 0
			continue
		}
		out[p] = xxhash.Sum64(data)
	}
	return out
}

func sameFingerprint(a, b map[string]uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
