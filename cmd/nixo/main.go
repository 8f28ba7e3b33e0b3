package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:  "nixo",
		Usage: "Nixo private transfer chat service CLI",
		Description: `A command-line tool for talking to and debugging the Nixo service.

Use this CLI to chat with the assistant, execute pending transfers, watch
transfer progress streams, and inspect persisted state.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Chat commands (HTTP API)
			{
				Name:  "chat",
				Usage: "Chat with the assistant",
				Subcommands: []*cli.Command{
					chatSendCommand(),
					chatMessagesCommand(),
				},
			},
			// Transfer commands
			{
				Name:  "transfers",
				Usage: "Transfer execution and streaming commands",
				Subcommands: []*cli.Command{
					executeTransferCommand(),
					watchTransfersCommand(),
				},
			},
			// Database inspection commands
			{
				Name:  "db",
				Usage: "Database inspection commands",
				Subcommands: []*cli.Command{
					listMessagesCommand(),
					listTransfersCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Nixo server URL",
				EnvVars: []string{"NIXO_SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
