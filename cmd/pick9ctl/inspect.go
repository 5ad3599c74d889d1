package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xtxerr/pick9/internal/storage/types"
	"golang.org/x/term"
)

const defaultWidth = 80

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	var src source
	src.register(fs)
	table := fs.String("table", "", "print only this table")
	fs.Parse(args)

	cs, from, err := src.load()
	if err != nil {
		return err
	}
	if *table != "" {
		if _, ok := cs.Table(*table); !ok {
			return fmt.Errorf("unknown table %q (have %s)", *table, strings.Join(cs.Schema().Names(), ", "))
		}
	}

	fmt.Printf("Source: %s\n", from)
	return renderTallies(os.Stdout, cs, *table, terminalWidth())
}

// terminalWidth returns the width of stdout, or defaultWidth when stdout
// is not a terminal.
func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return defaultWidth
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}

// renderTallies prints each table as "index:count" cells packed into
// columns that fit width. An empty only prints every table.
func renderTallies(w io.Writer, cs *types.CounterSet, only string, width int) error {
	schema := cs.Schema()
	fmt.Fprintf(w, "Trials: %s\n", cs.Sum(schema.TrialTable))

	for _, name := range schema.Names() {
		if only != "" && name != only {
			continue
		}
		cells, _ := cs.Table(name)

		labels := make([]string, len(cells))
		cellWidth := 0
		for i, v := range cells {
			labels[i] = fmt.Sprintf("%d:%s", i, v)
			cellWidth = max(cellWidth, len(labels[i]))
		}
		cellWidth += 2

		perLine := max(1, width/cellWidth)

		fmt.Fprintf(w, "\n%s [%d] sum %s\n", name, len(cells), cs.Sum(name))
		var b strings.Builder
		for i, label := range labels {
			fmt.Fprintf(&b, "%-*s", cellWidth, label)
			if (i+1)%perLine == 0 || i == len(labels)-1 {
				if _, err := fmt.Fprintln(w, strings.TrimRight(b.String(), " ")); err != nil {
					return err
				}
				b.Reset()
			}
		}
	}
	return nil
}
