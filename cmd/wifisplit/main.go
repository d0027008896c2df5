package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/netfence/wifisplit/internal/commands"
	"github.com/netfence/wifisplit/internal/log"
)

var (
	version = "dev"
	commit  = "n/a"
	date    = "n/a"
)

func main() {
	ctx := &commands.AppContext{Version: version}

	flag.StringVar(&ctx.ConfigPath, "config", "/etc/wifisplit/wifisplit.conf", "Path to configuration file")
	flag.BoolVar(&ctx.Verbose, "verbose", false, "Enable debug logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "WiFi Split-Tunnel Enforcer\n")
		fmt.Fprintf(os.Stderr, "Version: %s (Commit: %s, Date: %s)\n\n", version, commit, date)
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  service                 Run as a daemon (watcher, enforcer and HTTP API)\n")
		fmt.Fprintf(os.Stderr, "  apply                   Apply enforcement once for the current connection\n")
		fmt.Fprintf(os.Stderr, "  undo                    Remove enforcement and restore the original routing\n")
		fmt.Fprintf(os.Stderr, "  status                  Show the enforcement status of a running service\n")
		fmt.Fprintf(os.Stderr, "  self-check              Verify that active enforcement actually holds\n")
		fmt.Fprintf(os.Stderr, "  interfaces              List available network interfaces\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if ctx.Verbose {
		log.SetVerbose(true)
	}

	if _, err := os.Stat(ctx.ConfigPath); errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Configuration file not found: %s", ctx.ConfigPath)
	}

	cmds := []commands.Runner{
		commands.CreateServiceCommand(),
		commands.CreateApplyCommand(),
		commands.CreateUndoCommand(),
		commands.CreateStatusCommand(),
		commands.CreateSelfCheckCommand(),
		commands.CreateInterfacesCommand(),
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	subcommand := args[0]
	for _, cmd := range cmds {
		if cmd.Name() == subcommand {
			if err := cmd.Init(args[1:], ctx); err != nil {
				log.Fatalf("Failed to initialize command: %v", err)
			}

			if err := cmd.Run(); err != nil {
				log.Fatalf("Failed to run command: %v", err)
			}

			os.Exit(0)
		}
	}

	log.Fatalf("Unknown subcommand: %s", subcommand)
}
