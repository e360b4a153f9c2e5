package limiter

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const reloadDebounce = 100 * time.Millisecond

// WatchConfig reloads the config file at path into resolver whenever it changes,
// until ctx is done. Files that fail to parse or validate are logged and the
// previous config stays active.
//
// Limits apply to existing buckets on their next consume; stored token counts
// are carried over and clamped to the new capacity.
func WatchConfig(ctx context.Context, path string, resolver *Resolver) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	// watch the directory, editors often replace the file instead of writing it
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch directory %s: %w", filepath.Dir(absPath), err)
	}

	go watchLoop(ctx, watcher, absPath, resolver)
	log.Info().Str("path", absPath).Msg("watching limit config")
	return nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, resolver *Resolver) {
	defer watcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				reload(path, resolver)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Str("path", path).Msg("config watcher error")
		}
	}
}

func reload(path string, resolver *Resolver) {
	cfg, err := LoadConfig(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("config reload rejected, keeping previous limits")
		return
	}
	if err := resolver.Update(cfg); err != nil {
		log.Error().Err(err).Str("path", path).Msg("config reload rejected, keeping previous limits")
	}
}
