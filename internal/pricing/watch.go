package pricing

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/djinilabs/helpmaton-sub006/internal/metrics"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const reloadDebounce = 200 * time.Millisecond

// Watch reloads path into table whenever the file changes, until ctx is
// done. The parent directory is watched so editors that replace the file
// atomically are picked up. A file that fails to parse leaves the current
// table in place.
func Watch(ctx context.Context, path string, table *Table, m *metrics.Metrics) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create pricing watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve pricing path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch pricing dir: %w", err)
	}
	log.Info().Str("path", abs).Msg("Watching pricing file")

	reload := func() {
		next, err := LoadFile(abs)
		if err != nil {
			m.RecordPricingReload(false)
			log.Error().Err(err).Str("path", abs).Msg("Pricing reload failed, keeping previous table")
			return
		}
		table.Replace(next)
		m.RecordPricingReload(true)
		log.Info().Str("path", abs).Msg("Pricing table reloaded")
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("pricing watcher events channel closed")
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(reloadDebounce, reload)
			} else {
				timer.Reset(reloadDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("pricing watcher errors channel closed")
			}
			log.Warn().Err(err).Msg("Pricing watcher error")
		}
	}
}
