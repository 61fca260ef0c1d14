// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cache

import (
	"github.com/rs/zerolog/log"

	"github.com/sekolahdesk/sekolahdesk/internal/events"
)

// InvalidateOnSwap wires all three caches to the event bus: whenever the
// backing database file is swapped or reloaded, every cache is cleared
// before any new read is trusted. Ids, photos and interned strings from the
// previous database identity must never leak into the new one.
//
// The returned stop function unsubscribes and ends the goroutine.
func InvalidateOnSwap(bus *events.Bus, images *ImageCache, ids *IDCache, interner *Interner) func() {
	ch, cancel := bus.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range ch {
			if ev.Kind != events.DatabaseSwapped {
				continue
			}
			if images != nil {
				images.ClearAll()
			}
			if ids != nil {
				ids.Clear()
			}
			if interner != nil {
				interner.Clear()
			}
			log.Info().Msg("database swapped, all caches cleared")
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
