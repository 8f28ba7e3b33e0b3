package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Web3Novalabs/Nixo/service/transfer"
	"github.com/urfave/cli/v2"
)

func executeTransferCommand() *cli.Command {
	return &cli.Command{
		Name:      "execute",
		Usage:     "Execute a session's pending transfer intent",
		ArgsUsage: "<session_id>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "balance",
				Usage: "Current balance for validation, TOKEN=AMOUNT (repeatable)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: session ID")
			}

			balances, err := parseBalanceFlags(c.StringSlice("balance"))
			if err != nil {
				return err
			}

			cl := newChatClient(c)
			result, err := cl.ExecuteTransfer(context.Background(), c.Args().First(), balances)
			if err != nil {
				return fmt.Errorf("transfer request failed: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(result)
			}

			if result.Success {
				fmt.Printf("✓ Transfer complete\n")
				fmt.Printf("  tx hash: %s\n", result.TxHash)
				return nil
			}

			if len(result.ValidationErrors) > 0 {
				fmt.Printf("✗ Transfer rejected by validation:\n")
				for _, reason := range result.ValidationErrors {
					fmt.Printf("  - %s\n", reason)
				}
				return cli.Exit("", 1)
			}

			fmt.Printf("✗ Transfer failed: %s\n", result.Error)
			if result.TxHash != "" {
				fmt.Printf("  deposit tx hash: %s\n", result.TxHash)
			}
			return cli.Exit("", 1)
		},
	}
}

func watchTransfersCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Stream a session's transfer progress events via SSE",
		ArgsUsage: "<session_id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: session ID")
			}
			sessionID := c.Args().First()
			jsonOutput := c.Bool("json")

			// Stream until interrupted or the server closes the stream.
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			fmt.Fprintf(os.Stderr, "watching transfers for session %s (ctrl-c to stop)\n", sessionID)

			cl := newChatClient(c)
			err := cl.StreamTransferEvents(ctx, sessionID, func(event *transfer.Event) {
				if jsonOutput {
					outputJSON(event)
					return
				}
				line := fmt.Sprintf("[%s] %s: %s", event.At.Format(time.TimeOnly), event.Status, event.Message)
				if event.TxHash != "" {
					line += " tx=" + event.TxHash
				}
				fmt.Println(line)
			})
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("stream failed: %w", err)
			}
			return nil
		},
	}
}
