package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/xtxerr/pick9/internal/client"
	"github.com/xtxerr/pick9/internal/storage/parquet"
)

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	var src source
	src.register(fs)
	out := fs.String("o", "", "output Parquet file")
	compression := fs.String("compression", "zstd", "none, snappy, zstd, lz4 or gzip")
	fs.Parse(args)

	if *out == "" {
		return fmt.Errorf("export: -o is required")
	}
	ct, err := parquet.ParseCompressionType(*compression)
	if err != nil {
		return err
	}

	// A server writes the export itself.
	if src.server != "" {
		return exportFromServer(src.server, *out, ct.String())
	}

	cs, from, err := src.load()
	if err != nil {
		return err
	}
	if err := parquet.WriteFile(*out, cs, parquet.Options{Compression: ct}); err != nil {
		return err
	}

	info, err := parquet.GetFileInfo(*out)
	if err != nil {
		return err
	}
	fmt.Printf("Exported %s to %s: %d rows, %d bytes\n", from, *out, info.NumRows, info.Size)
	return nil
}

func exportFromServer(server, out, compression string) error {
	c, err := client.New(client.Config{ServerAddress: server})
	if err != nil {
		return err
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	n, err := c.Export(ctx, f, compression)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(out)
		return err
	}
	fmt.Printf("Exported %s to %s: %d bytes\n", server, out, n)
	return nil
}
