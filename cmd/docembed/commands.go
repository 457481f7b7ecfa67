package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dgallion1/docembed/internal/app"
	"github.com/dgallion1/docembed/internal/config"
	"github.com/dgallion1/docembed/internal/doctree"
	"github.com/dgallion1/docembed/internal/logging"
	"github.com/dgallion1/docembed/internal/pipeline"
	"github.com/dgallion1/docembed/internal/store"
	"github.com/urfave/cli/v3"
)

// setup loads configuration and opens the application components.
func setup(ctx context.Context, cmd *cli.Command) (*app.App, error) {
	envErr := config.LoadEnvFile(cmd.String("env"))

	cfg := config.Load()
	if v := cmd.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v := cmd.String("log-format"); v != "" {
		cfg.LogFormat = v
	}
	log := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if envErr != nil {
		log.Warn("could not load env file", "error", envErr)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return app.New(ctx, cfg, log)
}

func ingestAction(ctx context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return errors.New("at least one file is required")
	}

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := store.Migrate(ctx, a.DB); err != nil {
		return err
	}

	projectID := cmd.String("project")
	root := cmd.String("root")
	failed := 0
	for _, p := range paths {
		docPath, err := storedPath(root, p)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}

		start := time.Now()
		res := a.Pipeline.Ingest(ctx, doctree.SourceDocument{
			ProjectID:  projectID,
			Path:       docPath,
			Content:    content,
			Credential: cmd.String("credential"),
		}, nil)

		status := res.Status()
		if status != pipeline.StatusCompleted {
			failed++
		}
		fmt.Printf("%s\t%s\tchunks=%d stored=%d tokens=%d (%s)\n",
			docPath, status, res.Chunks, res.Stored, res.TotalTokens, time.Since(start).Round(time.Millisecond))
		for _, e := range res.Errors {
			fmt.Printf("  error: %s\n", e.Message)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files did not complete", failed, len(paths))
	}
	return nil
}

// storedPath is the slash-separated path a file is recorded under.
func storedPath(root, p string) (string, error) {
	if root == "" {
		return filepath.ToSlash(filepath.Clean(p)), nil
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", fmt.Errorf("%s is not under %s: %w", p, root, err)
	}
	if rel == ".." || filepath.IsAbs(rel) || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator) {
		return "", fmt.Errorf("%s is not under %s", p, root)
	}
	return filepath.ToSlash(rel), nil
}

func filesAction(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	files, err := a.Store.ListFiles(ctx, cmd.String("project"))
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSECTIONS\tUPDATED")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", f.Path, f.Sections, f.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func usageAction(ctx context.Context, cmd *cli.Command) error {
	month := cmd.String("month")
	if month == "" {
		month = time.Now().UTC().Format("2006-01")
	}
	key, err := store.UsageKeyForMonth(cmd.String("project"), month)
	if err != nil {
		return err
	}

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	tokens, err := a.Counter.Get(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	fmt.Printf("%s\t%s\t%d\n", cmd.String("project"), month, tokens)
	return nil
}

func migrateAction(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := store.Migrate(ctx, a.DB); err != nil {
		return err
	}
	a.Log.Info("schema applied")
	return nil
}
