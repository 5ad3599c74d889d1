package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	prompt "github.com/c-bata/go-prompt"
	"github.com/xtxerr/pick9/config"
	"github.com/xtxerr/pick9/internal/client"
	"github.com/xtxerr/pick9/internal/storage/types"
)

var shellCommands = []prompt.Suggest{
	{Text: "total", Description: "grand total and merge sequence"},
	{Text: "stats", Description: "server store statistics"},
	{Text: "snapshot", Description: "print the tallies (optionally one table)"},
	{Text: "export", Description: "write a Parquet export to a file"},
	{Text: "health", Description: "server readiness"},
	{Text: "help", Description: "list commands"},
	{Text: "exit", Description: "leave the shell"},
}

// shell executes commands against one server.
type shell struct {
	client *client.Client
	schema types.Schema
	out    io.Writer
}

func runShell(args []string) error {
	fs := flag.NewFlagSet("shell", flag.ExitOnError)
	server := fs.String("server", config.DefaultServerAddress, "aggregator URL")
	cfgPath := fs.String("config", "", "config file (for a custom schema)")
	fs.Parse(args)

	src := source{cfgPath: *cfgPath}
	schema, err := src.schema()
	if err != nil {
		return err
	}

	c, err := client.New(client.Config{ServerAddress: *server})
	if err != nil {
		return err
	}
	sh := &shell{client: c, schema: schema, out: os.Stdout}

	fmt.Printf("pick9ctl %s connected to %s. Type 'help' for commands.\n", Version, *server)
	p := prompt.New(
		func(line string) { sh.execute(line) },
		sh.complete,
		prompt.OptionPrefix("pick9> "),
		prompt.OptionTitle("pick9ctl"),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			return breakline && strings.TrimSpace(in) == "exit"
		}),
	)
	p.Run()
	return nil
}

func (s *shell) complete(d prompt.Document) []prompt.Suggest {
	words := strings.Fields(d.TextBeforeCursor())
	if len(words) == 0 || (len(words) == 1 && !strings.HasSuffix(d.TextBeforeCursor(), " ")) {
		return prompt.FilterHasPrefix(shellCommands, d.GetWordBeforeCursor(), true)
	}
	if words[0] == "snapshot" {
		var tables []prompt.Suggest
		for _, name := range s.schema.Names() {
			tables = append(tables, prompt.Suggest{
				Text:        name,
				Description: fmt.Sprintf("%d cells", s.schema.Size(name)),
			})
		}
		return prompt.FilterHasPrefix(tables, d.GetWordBeforeCursor(), true)
	}
	return nil
}

// execute runs one command line. Errors are printed, not returned.
func (s *shell) execute(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := s.dispatch(ctx, fields[0], fields[1:]); err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
	}
}

func (s *shell) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "total":
		total, seq, err := s.client.Total(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s trials (seq %d)\n", total, seq)

	case "stats":
		st, err := s.client.ServerStats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "path:          %s\n", st.Path)
		fmt.Fprintf(s.out, "persist mode:  %s\n", st.PersistMode)
		fmt.Fprintf(s.out, "seq:           %d (persisted %d)\n", st.Seq, st.PersistedSeq)
		fmt.Fprintf(s.out, "total:         %s\n", st.Total)
		fmt.Fprintf(s.out, "batches:       %d accepted, %d rejected\n",
			st.Ingest.BatchesAccepted, st.Ingest.BatchesRejected)

	case "snapshot":
		only := ""
		if len(args) > 0 {
			only = args[0]
			if s.schema.Size(only) == 0 {
				return fmt.Errorf("unknown table %q", only)
			}
		}
		cs, seq, err := s.client.Snapshot(ctx, s.schema)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "seq %d\n", seq)
		return renderTallies(s.out, cs, only, terminalWidth())

	case "export":
		if len(args) == 0 {
			return fmt.Errorf("usage: export <file> [compression]")
		}
		compression := ""
		if len(args) > 1 {
			compression = args[1]
		}
		f, err := os.Create(args[0])
		if err != nil {
			return err
		}
		n, err := s.client.Export(ctx, f, compression)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(args[0])
			return err
		}
		fmt.Fprintf(s.out, "wrote %d bytes to %s\n", n, args[0])

	case "health":
		if err := s.client.Health(ctx); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "ok")

	case "help":
		for _, c := range shellCommands {
			fmt.Fprintf(s.out, "  %-10s %s\n", c.Text, c.Description)
		}

	case "exit":
		// handled by the exit checker

	default:
		return fmt.Errorf("unknown command %q, type 'help'", cmd)
	}
	return nil
}
