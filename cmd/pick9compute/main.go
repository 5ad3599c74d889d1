// pick9compute runs simulation workers that submit batches to pick9d.
//
// Usage:
//
//	pick9compute [flags] [threads]
//
// The server address comes from -server, SERVER_ADDRESS, or the config
// file, in that order.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/xtxerr/pick9/internal/client"
	"github.com/xtxerr/pick9/internal/loader"
	"golang.org/x/sync/errgroup"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "", "config file path (optional)")
	server := flag.String("server", "", "aggregator URL (overrides SERVER_ADDRESS)")
	threads := flag.Int("threads", 0, "number of workers")
	rounds := flag.Int("rounds", 0, "trials per batch")
	retries := flag.Int("retries", -1, "resubmissions of a failed batch")
	batches := flag.Int("batches", 0, "batches per worker before exiting (0 runs until interrupted)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("pick9compute %s starting...", Version)

	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	// Environment overrides
	if v := os.Getenv("SERVER_ADDRESS"); v != "" {
		cfg.Compute.ServerAddress = v
	}

	// CLI overrides
	if flag.NArg() > 0 {
		n, err := strconv.Atoi(flag.Arg(0))
		if err != nil {
			log.Fatalf("Invalid thread count %q: %v", flag.Arg(0), err)
		}
		cfg.Compute.Threads = n
	}
	if *threads > 0 {
		cfg.Compute.Threads = *threads
	}
	if *server != "" {
		cfg.Compute.ServerAddress = *server
	}
	if *rounds > 0 {
		cfg.Compute.Rounds = *rounds
	}
	if *retries >= 0 {
		cfg.Compute.Retries = *retries
	}
	if *batches < 0 {
		log.Fatalf("Invalid batch count %d", *batches)
	}

	if err := loader.Validate(cfg); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if err := cfg.InitLogging(); err != nil {
		log.Fatalf("Init logging: %v", err)
	}

	c, err := client.New(client.Config{
		ServerAddress: cfg.Compute.ServerAddress,
		Timeout:       cfg.Compute.SubmitTimeout.Duration(),
		Retries:       cfg.Compute.Retries,
		RetryBackoff:  cfg.Compute.RetryBackoff.Duration(),
	})
	if err != nil {
		log.Fatalf("Client: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Running %d threads, %d trials per batch, server %s",
		cfg.Compute.Threads, cfg.Compute.Rounds, cfg.Compute.ServerAddress)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Compute.Threads; i++ {
		w := &worker{
			id:      i,
			rounds:  cfg.Compute.Rounds,
			batches: *batches,
			client:  c,
		}
		g.Go(func() error { return w.run(ctx) })
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("Worker: %v", err)
	}

	st := c.Stats()
	log.Printf("Stopped: %d batches submitted, %d retried, %d failed", st.Submitted, st.Retried, st.Failed)
}
