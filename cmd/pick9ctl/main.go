// pick9ctl inspects and maintains pick9 data.
//
// Usage:
//
//	pick9ctl inspect [-db path | -server url] [-table name]
//	pick9ctl export  [-db path | -server url] [-compression zstd] -o out.parquet
//	pick9ctl replay  -journal dir -o db.json [-force]
//	pick9ctl shell   [-server url]
package main

import (
	"fmt"
	"log"
	"os"
)

// Version is set at build time via ldflags
var Version = "dev"

type command struct {
	name  string
	usage string
	run   func(args []string) error
}

var commands = []command{
	{"inspect", "print the tallies of a snapshot file or a running server", runInspect},
	{"export", "write a Parquet export of a snapshot file or a running server", runExport},
	{"replay", "rebuild a snapshot file from a batch journal", runReplay},
	{"shell", "interactive session against a running server", runShell},
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("pick9ctl: ")

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	name := os.Args[1]
	switch name {
	case "-h", "-help", "--help", "help":
		usage()
		return
	case "version":
		fmt.Println(Version)
		return
	}

	for _, cmd := range commands {
		if cmd.name == name {
			if err := cmd.run(os.Args[2:]); err != nil {
				log.Fatal(err)
			}
			return
		}
	}

	fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
	usage()
	os.Exit(2)
}

func usage() {
	fmt.Fprintf(os.Stderr, "pick9ctl %s\n\nCommands:\n", Version)
	for _, cmd := range commands {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", cmd.name, cmd.usage)
	}
	fmt.Fprintf(os.Stderr, "\nRun 'pick9ctl <command> -h' for command flags.\n")
}
