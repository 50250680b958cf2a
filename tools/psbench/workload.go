package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apubsub "github.com/makinacorpus/apubsub-sub001"
	"github.com/makinacorpus/apubsub-sub001/cfg"
)

func channelName(i int) string {
	return fmt.Sprintf("bench-%04d", i)
}

func subscriberName(i int) string {
	return fmt.Sprintf("user-%04d", i)
}

func runLoad(args []string) {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to configuration file")
	channels := fs.Int("channels", 10, "Number of channels to create")
	subscribers := fs.Int("subscribers", 10, "Subscribers per channel")
	fs.Parse(args)

	if err := cfg.Load(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	setupLogging()

	backend, err := openBackend()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open backend")
	}
	defer backend.Close()

	ctx := context.Background()
	start := time.Now()
	created, subscribed := 0, 0

	for i := 0; i < *channels; i++ {
		name := channelName(i)
		if _, err := backend.CreateChannel(ctx, name, "benchmark channel"); err != nil {
			if !apubsub.IsDuplicateChannel(err) {
				log.Fatal().Err(err).Str("channel", name).Msg("Failed to create channel")
			}
		} else {
			created++
		}

		for j := 0; j < *subscribers; j++ {
			sub, err := backend.Subscribe(ctx, name, subscriberName(j))
			if err != nil {
				log.Fatal().Err(err).Str("channel", name).Msg("Failed to subscribe")
			}
			if _, err := backend.SetActive(ctx, sub.ID, true); err != nil {
				log.Fatal().Err(err).Uint64("subscription", sub.ID).Msg("Failed to activate")
			}
			subscribed++
		}
	}

	log.Info().
		Int("channels", created).
		Int("subscriptions", subscribed).
		Dur("elapsed", time.Since(start)).
		Msg("Load complete")
}

func runBenchmark(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to configuration file")
	channels := fs.Int("channels", 10, "Number of channels to target")
	operations := fs.Int("operations", 50000, "Total operations to execute")
	threads := fs.Int("threads", 10, "Number of concurrent workers")
	sendPct := fs.Int("send-pct", 30, "Send percentage of the mix")
	payload := fs.Int("payload", 256, "Payload size in bytes")
	fs.Parse(args)

	if err := cfg.Load(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	setupLogging()

	backend, err := openBackend()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open backend")
	}
	defer backend.Close()

	body := strings.Repeat("x", *payload)
	stats := &benchStats{}

	stop := make(chan struct{})
	go reportLoop(stats, stop)

	perWorker := *operations / *threads
	start := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < *threads; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			worker(backend, rng, *channels, perWorker, *sendPct, body, stats)
		}(time.Now().UnixNano() + int64(w))
	}
	wg.Wait()
	close(stop)

	elapsed := time.Since(start)
	total := stats.sends.Load() + stats.fetches.Load()
	log.Info().
		Int64("sends", stats.sends.Load()).
		Int64("fetches", stats.fetches.Load()).
		Int64("errors", stats.errors.Load()).
		Dur("elapsed", elapsed).
		Float64("ops_per_sec", float64(total)/elapsed.Seconds()).
		Msg("Benchmark complete")
}

func worker(backend apubsub.Backend, rng *rand.Rand, channels, operations, sendPct int, body string, stats *benchStats) {
	ctx := context.Background()

	for i := 0; i < operations; i++ {
		channel := channelName(rng.Intn(channels))

		if rng.Intn(100) < sendPct {
			_, err := backend.Send(ctx, apubsub.SendRequest{
				Channels: []string{channel},
				Contents: body,
				Type:     "benchmark",
				Origin:   cfg.Config.Origin,
			})
			if err != nil {
				stats.errors.Add(1)
				continue
			}
			stats.sends.Add(1)
			continue
		}

		cursor := backend.Fetch(apubsub.Filter{apubsub.FieldChannel: channel})
		if err := cursor.SetLimit(10); err != nil {
			stats.errors.Add(1)
			continue
		}
		failed := false
		for {
			_, ok, err := cursor.Next(ctx)
			if err != nil {
				stats.errors.Add(1)
				failed = true
				break
			}
			if !ok {
				break
			}
		}
		if !failed {
			stats.fetches.Add(1)
		}
	}
}
