package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgallion1/docembed/internal/embedding"
	"github.com/dgallion1/docembed/internal/retry"
	"github.com/dgallion1/docembed/internal/store"
)

type providerFunc func(ctx context.Context, req embedding.Request) (embedding.Result, error)

func (f providerFunc) Embed(ctx context.Context, req embedding.Request) (embedding.Result, error) {
	return f(ctx, req)
}

// fakeProvider returns a 3-dimension vector and one token per word.
type fakeProvider struct {
	calls  atomic.Int32
	mu     sync.Mutex
	inputs []embedding.Request
	fail   func(req embedding.Request) error
}

func (p *fakeProvider) Embed(ctx context.Context, req embedding.Request) (embedding.Result, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.inputs = append(p.inputs, req)
	p.mu.Unlock()
	if p.fail != nil {
		if err := p.fail(req); err != nil {
			return embedding.Result{}, err
		}
	}
	return embedding.Result{Vector: []float32{0.1, 0.2, 0.3}, TotalTokens: 10}, nil
}

func (p *fakeProvider) requests() []embedding.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]embedding.Request(nil), p.inputs...)
}

type fakeStore struct {
	mu       sync.Mutex
	files    map[string]*store.File
	sections map[string][]store.SectionRecord
	deleted  []string
	nextID   int

	findErr      error
	createErr    error
	bulkErr      error
	failOrdinals map[int]bool
	ctxErrs      []error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		files:    make(map[string]*store.File),
		sections: make(map[string][]store.SectionRecord),
	}
}

func (s *fakeStore) FindFileByPath(_ context.Context, projectID, path string) (*store.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	f, ok := s.files[projectID+"/"+path]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *fakeStore) CreateFile(_ context.Context, projectID, path string, meta map[string]any) (*store.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.nextID++
	f := &store.File{
		ID:        fmt.Sprintf("file-%d", s.nextID),
		ProjectID: projectID,
		Path:      path,
		Meta:      meta,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.files[projectID+"/"+path] = f
	cp := *f
	return &cp, nil
}

func (s *fakeStore) UpdateFileMeta(_ context.Context, fileID string, meta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.files {
		if f.ID == fileID {
			f.Meta = meta
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *fakeStore) DeleteSections(_ context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, fileID)
	delete(s.sections, fileID)
	return nil
}

func (s *fakeStore) InsertSections(ctx context.Context, records []store.SectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	if s.bulkErr != nil {
		return s.bulkErr
	}
	for _, r := range records {
		s.sections[r.FileID] = append(s.sections[r.FileID], r)
	}
	return nil
}

func (s *fakeStore) InsertSection(ctx context.Context, r store.SectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	if s.failOrdinals[r.Ordinal] {
		return errors.New("row rejected")
	}
	s.sections[r.FileID] = append(s.sections[r.FileID], r)
	return nil
}

func (s *fakeStore) ListFiles(_ context.Context, projectID string) ([]store.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.File
	for _, f := range s.files {
		if f.ProjectID == projectID {
			cp := *f
			cp.Sections = len(s.sections[f.ID])
			out = append(out, cp)
		}
	}
	return out, nil
}

func (s *fakeStore) stored(fileID string) []store.SectionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.SectionRecord(nil), s.sections[fileID]...)
}

type fakeCounter struct {
	mu     sync.Mutex
	values map[string]int64
	err    error
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{values: make(map[string]int64)}
}

func (c *fakeCounter) IncrementBy(_ context.Context, key string, amount int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	c.values[key] += amount
	return c.values[key], nil
}

func (c *fakeCounter) Get(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key], nil
}

// fastPolicy retries without waiting.
func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, InitialDelay: 0, Multiplier: 1}
}

type harness struct {
	provider *fakeProvider
	store    *fakeStore
	counter  *fakeCounter
	pipeline *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		provider: &fakeProvider{},
		store:    newFakeStore(),
		counter:  newFakeCounter(),
	}
	driver := NewDriver(h.provider, fastPolicy(3), 0, DefaultMinContentLength, nil)
	coord := NewCoordinator(h.store, h.counter, nil)
	h.pipeline = NewPipeline(nil, driver, coord, nil)
	return h
}
