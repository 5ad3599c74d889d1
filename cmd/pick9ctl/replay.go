package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/xtxerr/pick9/internal/loader"
	"github.com/xtxerr/pick9/internal/storage/snapshot"
	"github.com/xtxerr/pick9/internal/storage/types"
	"github.com/xtxerr/pick9/internal/storage/wal"
)

func runReplay(args []string) error {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	journal := fs.String("journal", "", "batch journal directory")
	out := fs.String("o", "", "snapshot file to write")
	force := fs.Bool("force", false, "overwrite an existing snapshot file")
	cfgPath := fs.String("config", "", "config file (for a custom schema)")
	fs.Parse(args)

	if *journal == "" || *out == "" {
		return fmt.Errorf("replay: -journal and -o are required")
	}

	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		return err
	}

	res, err := replay(cfg.Schema(), *journal, *out, *force)
	if err != nil {
		return err
	}

	fmt.Printf("Replayed %d records from %d segments into %s\n", res.Records, res.Segments, *out)
	if res.CorruptRecords > 0 {
		fmt.Printf("Skipped %d corrupt records\n", res.CorruptRecords)
	}
	if res.Records > 0 {
		fmt.Printf("Records span %s to %s\n",
			time.UnixMilli(res.FirstUnixMs).UTC().Format(time.RFC3339),
			time.UnixMilli(res.LastUnixMs).UTC().Format(time.RFC3339))
	}
	fmt.Printf("Trials: %s\n", res.Total.Sum(cfg.Schema().TrialTable))
	return nil
}

// replay rebuilds a snapshot file from the journal in dir. An existing
// snapshot is only replaced when force is set.
func replay(schema types.Schema, dir, out string, force bool) (*wal.ReplayResult, error) {
	exists, err := snapshot.Exists(out)
	if err != nil {
		return nil, err
	}
	if exists && !force {
		return nil, fmt.Errorf("%s exists; use -force to overwrite", out)
	}

	res, err := wal.Replay(schema, dir)
	if err != nil {
		return nil, err
	}
	if res.Segments == 0 {
		return nil, fmt.Errorf("no journal segments in %s", dir)
	}

	data, err := snapshot.Encode(res.Total)
	if err != nil {
		return nil, err
	}
	if err := snapshot.WriteFile(out, data); err != nil {
		return nil, err
	}
	return res, nil
}
