// pick9d is the tally aggregator daemon.
//
// Usage:
//
//	pick9d [flags] [listen-address]
//
// The listen address may also be given as the first positional argument.
// Precedence: flag or positional argument, then PICK9_LISTEN / PICK9_DB,
// then the config file, then defaults.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/xtxerr/pick9/internal/loader"
	"github.com/xtxerr/pick9/internal/server"
	"github.com/xtxerr/pick9/internal/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path (missing file means defaults)")
	listen := flag.String("listen", "", "listen address (overrides config and PICK9_LISTEN)")
	dbPath := flag.String("db", "", "snapshot file path (overrides config and PICK9_DB)")
	journalDir := flag.String("journal", "", "batch journal directory (enables the journal)")
	persistMode := flag.String("persist-mode", "", "snapshot durability: weak or strict")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	log.Printf("pick9d %s starting...", Version)

	// Load config
	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	// Environment overrides
	if v := os.Getenv("PICK9_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("PICK9_DB"); v != "" {
		cfg.Storage.Path = v
	}

	// CLI overrides
	if flag.NArg() > 0 {
		cfg.Server.Listen = flag.Arg(0)
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
	}
	if *journalDir != "" {
		cfg.Storage.Journal.Dir = *journalDir
	}
	if *persistMode != "" {
		cfg.Storage.PersistMode = *persistMode
	}

	// Validate
	if err := loader.Validate(cfg); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if err := cfg.InitLogging(); err != nil {
		log.Fatalf("Init logging: %v", err)
	}
	gin.SetMode(gin.ReleaseMode)

	// =========================================================================
	// Open Store
	// =========================================================================

	opts, err := cfg.StoreOptions()
	if err != nil {
		log.Fatalf("Store options: %v", err)
	}

	store, err := storage.Open(opts)
	if err != nil {
		// A corrupt snapshot must be repaired by hand, never overwritten.
		log.Fatalf("Open store: %v", err)
	}
	log.Printf("Read %s trials from %s (persist mode %s)",
		store.Total(), opts.Path, opts.PersistMode)
	if opts.JournalDir != "" {
		log.Printf("Batch journal enabled: %s", opts.JournalDir)
	}

	// =========================================================================
	// Create Server
	// =========================================================================

	srv := server.New(&server.Config{
		Store:        store,
		Listen:       cfg.Server.Listen,
		MaxBodyBytes: cfg.Server.MaxBodyBytes.Bytes(),
		MaxInFlight:  int64(cfg.Server.MaxInFlight),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration(),
		WriteTimeout: cfg.Server.WriteTimeout.Duration(),
		DrainTimeout: cfg.Server.DrainTimeout.Duration(),
	})

	// =========================================================================
	// Signal Handling and Graceful Shutdown
	// =========================================================================

	drained := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("Shutting down...")

		// Stop accepting batches and drain in-flight ones
		if err := srv.Shutdown(); err != nil {
			log.Printf("Warning: drain: %v", err)
		}
		close(drained)
	}()

	// =========================================================================
	// Run
	// =========================================================================

	log.Printf("Listening on %s", cfg.Server.Listen)
	if err := srv.Run(); err != nil {
		store.Close()
		log.Fatalf("Server error: %v", err)
	}
	<-drained

	// Close the store last (final snapshot, journal)
	if err := store.Close(); err != nil {
		log.Fatalf("Close store: %v", err)
	}
	log.Printf("Total %s trials", store.Total())
}
