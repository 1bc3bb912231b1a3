// ABOUTME: Polling watcher that reloads settings when a settings file changes
// ABOUTME: Compares mtime and size each tick; a file appearing or disappearing counts as a change

package config

import (
	"context"
	"os"
	"time"
)

// DefaultWatchInterval is the polling period used when none is given.
const DefaultWatchInterval = 2 * time.Second

type fileStamp struct {
	mod  time.Time
	size int64
	ok   bool
}

func (s fileStamp) same(o fileStamp) bool {
	return s.ok == o.ok && s.size == o.size && s.mod.Equal(o.mod)
}

func stampOf(path string) fileStamp {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}
	}
	return fileStamp{mod: info.ModTime(), size: info.Size(), ok: true}
}

// Watch polls paths every interval until ctx ends and calls onChange from the
// polling goroutine after any of them changes. It returns immediately.
func Watch(ctx context.Context, paths []string, interval time.Duration, onChange func()) {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	stamps := make([]fileStamp, len(paths))
	for i, p := range paths {
		stamps[i] = stampOf(p)
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			changed := false
			for i, p := range paths {
				if s := stampOf(p); !s.same(stamps[i]) {
					stamps[i] = s
					changed = true
				}
			}
			if changed && ctx.Err() == nil {
				onChange()
			}
		}
	}()
}

// WatchSettings reloads the settings for projectRoot whenever either settings
// file changes and hands the result to apply. Files that fail to parse are
// reported through onError and the previous settings stay in effect.
func WatchSettings(ctx context.Context, projectRoot string, interval time.Duration, apply func(*Settings), onError func(error)) {
	Watch(ctx, SettingsFiles(projectRoot), interval, func() {
		s, err := Load(projectRoot)
		if err == nil {
			err = s.Validate()
		}
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		apply(s)
	})
}
