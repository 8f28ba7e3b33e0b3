package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Web3Novalabs/Nixo/client"
	"github.com/Web3Novalabs/Nixo/service/intent"
	"github.com/Web3Novalabs/Nixo/service/token"
	"github.com/urfave/cli/v2"
)

func chatSendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send one message and stream the reply",
		ArgsUsage: "<message>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "session",
				Aliases: []string{"s"},
				Usage:   "Session ID (omit to start a new conversation)",
			},
			&cli.StringFlag{
				Name:    "wallet",
				Aliases: []string{"w"},
				Usage:   "Wallet address to include as context",
			},
			&cli.StringSliceFlag{
				Name:  "balance",
				Usage: "Balance to include as context, TOKEN=AMOUNT (repeatable)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: the message")
			}

			balances, err := parseBalanceFlags(c.StringSlice("balance"))
			if err != nil {
				return err
			}

			cl := newChatClient(c)

			// Stream fragments straight to stdout as they arrive; the
			// assembled result is reported afterwards.
			onFragment := func(f string) { fmt.Print(f) }
			if c.Bool("json") {
				onFragment = nil
			}

			result, err := cl.Chat(context.Background(), c.String("session"), c.Args().First(), c.String("wallet"), balances, onFragment)
			if err != nil {
				return fmt.Errorf("chat failed: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]interface{}{
					"session_id": result.SessionID,
					"message":    result.Message,
					"intent":     result.Intent,
				})
			}

			fmt.Println()
			fmt.Fprintf(os.Stderr, "\nsession: %s\n", result.SessionID)
			fmt.Fprintf(os.Stderr, "intent:  %s (confidence %.2f)\n", result.Intent.Type, result.Intent.Confidence)
			if result.Intent.Type == intent.TypeTransfer && result.Intent.Transfer != nil {
				d := result.Intent.Transfer
				amount := "?"
				if d.Amount != nil {
					amount = d.Amount.String()
				}
				fmt.Fprintf(os.Stderr, "pending: %s %s -> %s\n", amount, d.Token, d.Recipient)
				fmt.Fprintf(os.Stderr, "run `nixo transfers execute %s` to execute it\n", result.SessionID)
			}
			return nil
		},
	}
}

func chatMessagesCommand() *cli.Command {
	return &cli.Command{
		Name:      "messages",
		Usage:     "Show a session's transcript",
		Aliases:   []string{"log"},
		ArgsUsage: "<session_id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: session ID")
			}

			cl := newChatClient(c)
			msgs, err := cl.Messages(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to fetch transcript: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(msgs)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tROLE\tCONTENT")
			for _, msg := range msgs {
				content := strings.ReplaceAll(msg.Content, "\n", " ")
				if len(content) > 80 {
					content = content[:77] + "..."
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", msg.Timestamp.Format(time.RFC3339), msg.Role, content)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d messages\n", len(msgs))
			return nil
		},
	}
}

// parseBalanceFlags turns repeated TOKEN=AMOUNT flags into balance entries.
func parseBalanceFlags(raw []string) ([]token.Balance, error) {
	balances := make([]token.Balance, 0, len(raw))
	for _, entry := range raw {
		sym, amount, ok := strings.Cut(entry, "=")
		if !ok || sym == "" || amount == "" {
			return nil, fmt.Errorf("invalid balance %q: expected TOKEN=AMOUNT", entry)
		}
		balances = append(balances, token.Balance{Token: sym, Balance: amount})
	}
	return balances, nil
}

func newChatClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return client.NewClient(c.String("server-url"), nil, logger)
}
