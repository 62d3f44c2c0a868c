// Package journal keeps a persistent history of redirected mount operations.
package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/containerd/log"

	"github.com/spin-stack/submount/internal/lifecycle"
)

const bucketName = "operations"

// Step is one recorded state transition.
type Step struct {
	From  string    `json:"from"`
	To    string    `json:"to"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

// Entry is the history of one operation.
type Entry struct {
	ID      string    `json:"id"`
	Source  string    `json:"source"`
	Target  string    `json:"target"`
	Subdir  string    `json:"subdir"`
	State   string    `json:"state"`
	Error   string    `json:"error,omitempty"`
	Started time.Time `json:"started"`
	Updated time.Time `json:"updated"`
	Steps   []Step    `json:"steps"`
}

// Journal records operation transitions. Operation IDs are time ordered, so
// key order is chronological and the oldest entries are trimmed first.
type Journal struct {
	mu         sync.Mutex
	store      Store[Entry]
	maxEntries int
}

// New returns a journal on store keeping at most maxEntries operations.
// maxEntries <= 0 keeps everything.
func New(store Store[Entry], maxEntries int) *Journal {
	return &Journal{store: store, maxEntries: maxEntries}
}

// Open opens the journal database at path.
func Open(path string, maxEntries int, timeout time.Duration) (*Journal, error) {
	s, err := OpenBoltStore[Entry](path, bucketName, timeout)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return New(s, maxEntries), nil
}

// Record appends t to the entry of its operation.
func (j *Journal) Record(ctx context.Context, t lifecycle.Transition) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	e, err := j.store.Get(ctx, t.ID)
	created := false
	switch {
	case errors.Is(err, ErrNotFound):
		e = &Entry{ID: t.ID, Source: t.Source, Subdir: t.Subdir, Started: t.At}
		created = true
	case err != nil:
		return err
	}

	step := Step{From: t.From.String(), To: t.To.String(), At: t.At}
	if t.Err != nil {
		step.Error = t.Err.Error()
		e.Error = step.Error
	}
	e.Steps = append(e.Steps, step)
	e.State = step.To
	e.Target = t.Target
	e.Updated = t.At

	if err := j.store.Set(ctx, t.ID, e); err != nil {
		return err
	}
	if created {
		return j.trim(ctx)
	}
	return nil
}

// Get returns the entry of operation id.
func (j *Journal) Get(ctx context.Context, id string) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.store.Get(ctx, id)
}

// List returns every entry, oldest first.
func (j *Journal) List(ctx context.Context) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var entries []Entry
	err := j.store.Scan(ctx, "", func(_ string, e *Entry) error {
		entries = append(entries, *e)
		return nil
	})
	return entries, err
}

func (j *Journal) Close() error {
	return j.store.Close()
}

func (j *Journal) trim(ctx context.Context) error {
	if j.maxEntries <= 0 {
		return nil
	}

	var keys []string
	if err := j.store.Scan(ctx, "", func(key string, _ *Entry) error {
		keys = append(keys, key)
		return nil
	}); err != nil {
		return err
	}

	excess := len(keys) - j.maxEntries
	for i := 0; i < excess; i++ {
		if err := j.store.Delete(ctx, keys[i]); err != nil {
			return fmt.Errorf("trim journal: %w", err)
		}
	}
	if excess > 0 {
		log.G(ctx).WithField("removed", excess).Debug("journal trimmed")
	}
	return nil
}
