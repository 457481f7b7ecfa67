package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:  "docembed",
		Usage: "segment documents and store their embeddings",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment file path",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error (overrides LOG_LEVEL)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "json or text (overrides LOG_FORMAT)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "embed files into a project",
				ArgsUsage: "FILE...",
				Flags: []cli.Flag{
					projectFlag(),
					&cli.StringFlag{
						Name:  "credential",
						Usage: "provider API key for these documents",
					},
					&cli.StringFlag{
						Name:  "root",
						Usage: "directory stored paths are made relative to",
					},
				},
				Action: ingestAction,
			},
			{
				Name:   "files",
				Usage:  "list the files stored for a project",
				Flags:  []cli.Flag{projectFlag()},
				Action: filesAction,
			},
			{
				Name:  "usage",
				Usage: "show embedding tokens used by a project",
				Flags: []cli.Flag{
					projectFlag(),
					&cli.StringFlag{
						Name:  "month",
						Usage: "month as YYYY-MM (default: current UTC month)",
					},
				},
				Action: usageAction,
			},
			{
				Name:   "migrate",
				Usage:  "apply the database schema",
				Action: migrateAction,
			},
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func projectFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "project",
		Usage:    "project id",
		Required: true,
	}
}
