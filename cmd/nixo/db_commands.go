package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/Web3Novalabs/Nixo/service/db"
	"github.com/itchyny/gojq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listMessagesCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-messages",
		Usage:     "List a session's persisted chat messages",
		Aliases:   []string{"msgs"},
		ArgsUsage: "<session_id>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of messages",
				Value:   100,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Skip this many messages",
			},
			&cli.StringFlag{
				Name:  "filter",
				Usage: "jq expression applied to each message; rows where it is not truthy are dropped",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: session ID")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			records, err := store.ListMessages(context.Background(), c.Args().First(), int32(c.Int("limit")), int32(c.Int("offset")))
			if err != nil {
				return fmt.Errorf("failed to list messages: %w", err)
			}

			rows := make([]map[string]interface{}, len(records))
			for i, rec := range records {
				rows[i] = map[string]interface{}{
					"id":         rec.ID,
					"session_id": rec.SessionID,
					"role":       rec.Role,
					"content":    rec.Content,
					"created_at": rec.CreatedAt.Format(time.RFC3339),
				}
			}

			rows, err = applyJQFilter(rows, c.String("filter"))
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(rows)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CREATED\tROLE\tCONTENT")
			for _, row := range rows {
				content := row["content"].(string)
				if len(content) > 80 {
					content = content[:77] + "..."
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", row["created_at"], row["role"], content)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d messages\n", len(rows))
			return nil
		},
	}
}

func listTransfersCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-transfers",
		Usage:     "List a session's transfer audit rows",
		Aliases:   []string{"txs"},
		ArgsUsage: "<session_id>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of transfers",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Skip this many transfers",
			},
			&cli.StringFlag{
				Name:  "filter",
				Usage: "jq expression applied to each transfer; rows where it is not truthy are dropped",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: session ID")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			records, err := store.ListTransfers(context.Background(), c.Args().First(), int32(c.Int("limit")), int32(c.Int("offset")))
			if err != nil {
				return fmt.Errorf("failed to list transfers: %w", err)
			}

			rows := make([]map[string]interface{}, len(records))
			for i, rec := range records {
				rows[i] = map[string]interface{}{
					"session_id": rec.SessionID,
					"token":      rec.Token,
					"amount":     rec.Amount,
					"recipient":  rec.Recipient,
					"tx_hash":    rec.TxHash,
					"outcome":    rec.Outcome,
					"error":      rec.Error,
					"created_at": rec.CreatedAt.Format(time.RFC3339),
				}
			}

			rows, err = applyJQFilter(rows, c.String("filter"))
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(rows)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CREATED\tTOKEN\tAMOUNT\tOUTCOME\tTX HASH")
			for _, row := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					row["created_at"], row["token"], row["amount"], row["outcome"], row["tx_hash"])
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d transfers\n", len(rows))
			return nil
		},
	}
}

// applyJQFilter keeps the rows for which the jq expression yields a truthy
// value. An empty expression keeps everything.
func applyJQFilter(rows []map[string]interface{}, filter string) ([]map[string]interface{}, error) {
	if filter == "" {
		return rows, nil
	}

	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}

	kept := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		iter := code.Run(map[string]interface{}(row))
		v, ok := iter.Next()
		if !ok {
			continue
		}
		if _, isErr := v.(error); isErr {
			continue
		}
		if isTruthy(v) {
			kept = append(kept, row)
		}
	}
	return kept, nil
}

// isTruthy follows jq semantics: false and null are falsy, everything else
// is truthy.
func isTruthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	default:
		return true
	}
}

func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool, nil)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
