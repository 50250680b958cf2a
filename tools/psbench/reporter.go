package main

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

type benchStats struct {
	sends   atomic.Int64
	fetches atomic.Int64
	errors  atomic.Int64
}

// reportLoop logs throughput every interval until stop closes.
func reportLoop(stats *benchStats, stop <-chan struct{}) {
	const interval = 2 * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastSends, lastFetches int64
	for {
		select {
		case <-ticker.C:
			sends := stats.sends.Load()
			fetches := stats.fetches.Load()
			log.Info().
				Float64("sends_per_sec", float64(sends-lastSends)/interval.Seconds()).
				Float64("fetches_per_sec", float64(fetches-lastFetches)/interval.Seconds()).
				Int64("errors", stats.errors.Load()).
				Msg("progress")
			lastSends, lastFetches = sends, fetches
		case <-stop:
			return
		}
	}
}
