package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/docembed/internal/doctree"
	"github.com/dgallion1/docembed/internal/store"
)

// Coordinator writes a document's records and accounts its token usage.
type Coordinator struct {
	store   store.Store
	counter store.Counter
	log     *slog.Logger
	now     func() time.Time
}

func NewCoordinator(st store.Store, counter store.Counter, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		store:   st,
		counter: counter,
		log:     log,
		now:     time.Now,
	}
}

// ResolveFile returns the id of the file at path, creating it if needed.
// An existing file has its sections removed and its metadata replaced.
// Any error means there is nothing to attach records to.
func (c *Coordinator) ResolveFile(ctx context.Context, projectID, path string, meta map[string]any) (string, error) {
	f, err := c.store.FindFileByPath(ctx, projectID, path)
	switch {
	case errors.Is(err, store.ErrNotFound):
		f, err = c.store.CreateFile(ctx, projectID, path, meta)
		if err != nil {
			return "", fmt.Errorf("create file: %w", err)
		}
		c.log.Info("created file", "project_id", projectID, "path", path, "file_id", f.ID)
		return f.ID, nil
	case err != nil:
		return "", fmt.Errorf("find file: %w", err)
	}

	if err := c.store.DeleteSections(ctx, f.ID); err != nil {
		return "", fmt.Errorf("delete previous sections: %w", err)
	}
	if err := c.store.UpdateFileMeta(ctx, f.ID, meta); err != nil {
		return "", fmt.Errorf("update file meta: %w", err)
	}
	c.log.Info("replacing file sections", "project_id", projectID, "path", path, "file_id", f.ID)
	return f.ID, nil
}

// Persist inserts records and adds totalTokens to the project's usage for
// the current month. A failed bulk insert is reported and retried one
// record at a time; records inserted that way stay inserted even when
// others fail. Persist does not stop when ctx is cancelled.
func (c *Coordinator) Persist(ctx context.Context, projectID, path string, records []store.SectionRecord, totalTokens int) (int, []doctree.IngestError) {
	ctx = context.WithoutCancel(ctx)
	log := c.log.With("project_id", projectID, "path", path)

	var errs []doctree.IngestError
	stored := 0
	if len(records) > 0 {
		err := c.store.InsertSections(ctx, records)
		if err == nil {
			stored = len(records)
		} else {
			log.Warn("bulk insert failed, inserting one at a time", "records", len(records), "error", err)
			errs = append(errs, doctree.IngestError{
				Path:    path,
				Message: fmt.Sprintf("bulk insert of %d sections failed: %v", len(records), err),
			})
			for _, r := range records {
				if err := c.store.InsertSection(ctx, r); err != nil {
					log.Error("section insert failed", "ordinal", r.Ordinal, "error", err)
					errs = append(errs, doctree.IngestError{
						Path:    path,
						Message: fmt.Sprintf("insert section %d: %v", r.Ordinal, err),
					})
					continue
				}
				stored++
			}
		}
	}

	if totalTokens > 0 {
		key := store.UsageKey(projectID, c.now())
		total, err := c.counter.IncrementBy(ctx, key, int64(totalTokens))
		if err != nil {
			log.Error("usage increment failed", "key", key, "tokens", totalTokens, "error", err)
			errs = append(errs, doctree.IngestError{
				Path:    path,
				Message: fmt.Sprintf("record usage of %d tokens: %v", totalTokens, err),
			})
		} else {
			log.Debug("usage recorded", "key", key, "tokens", totalTokens, "month_total", total)
		}
	}

	log.Info("persisted sections", "stored", stored, "records", len(records), "errors", len(errs))
	return stored, errs
}
