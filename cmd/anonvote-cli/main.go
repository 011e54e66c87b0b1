// Command anonvote-cli is the organizer and voter side of anonvote: it
// generates keys, builds census files, creates polls, casts ballots and reads
// results from a ledger API.
package main

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/vocdoni/anonvote-node/log"
)

const defaultLedgerURL = "http://127.0.0.1:9090"

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, args []string) error
}

var commands = []command{
	{"keygen", "generate an identity key and print its census leaf", keygen},
	{"census", "build a census file from census leaves", buildCensus},
	{"create-poll", "create a poll on the ledger", createPoll},
	{"vote", "cast or replace a ballot", vote},
	{"results", "print the results of a finished poll", results},
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: anonvote-cli <command> [flags]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-12s %s\n", c.name, c.usage)
	}
	fmt.Fprintf(os.Stderr, "\nRun anonvote-cli <command> --help for the flags of a command.\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	log.Init(cmp.Or(os.Getenv("LOG_LEVEL"), log.LogLevelWarn), "stderr", nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	for _, c := range commands {
		if c.name != os.Args[1] {
			continue
		}
		if err := c.run(ctx, os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", c.name, err)
			os.Exit(1)
		}
		return
	}
	usage()
	os.Exit(2)
}

// newFlagSet returns the flag set of a command.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SortFlags = false
	return fs
}
