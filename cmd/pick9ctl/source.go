package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/xtxerr/pick9/config"
	"github.com/xtxerr/pick9/internal/client"
	"github.com/xtxerr/pick9/internal/loader"
	"github.com/xtxerr/pick9/internal/storage/snapshot"
	"github.com/xtxerr/pick9/internal/storage/types"
)

const requestTimeout = 30 * time.Second

// source selects where a command reads tallies from: a snapshot file or
// a running server.
type source struct {
	db      string
	server  string
	cfgPath string
}

func (s *source) register(fs *flag.FlagSet) {
	fs.StringVar(&s.db, "db", "", "snapshot file to read")
	fs.StringVar(&s.server, "server", "", "aggregator URL to read from")
	fs.StringVar(&s.cfgPath, "config", "", "config file (for a custom schema)")
}

func (s *source) schema() (types.Schema, error) {
	cfg, err := loader.Load(s.cfgPath)
	if err != nil {
		return types.Schema{}, err
	}
	return cfg.Schema(), nil
}

// load returns the tallies and a description of where they came from.
func (s *source) load() (*types.CounterSet, string, error) {
	schema, err := s.schema()
	if err != nil {
		return nil, "", err
	}

	if s.server != "" {
		c, err := client.New(client.Config{ServerAddress: s.server})
		if err != nil {
			return nil, "", err
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		cs, seq, err := c.Snapshot(ctx, schema)
		if err != nil {
			return nil, "", err
		}
		return cs, fmt.Sprintf("%s (seq %d)", s.server, seq), nil
	}

	path := s.db
	if path == "" {
		path = config.DefaultSnapshotPath
	}
	if ok, err := snapshot.Exists(path); err != nil {
		return nil, "", err
	} else if !ok {
		return nil, "", fmt.Errorf("%s: %w", path, os.ErrNotExist)
	}
	cs, err := snapshot.ReadFile(schema, path)
	if err != nil {
		return nil, "", err
	}
	return cs, path, nil
}
