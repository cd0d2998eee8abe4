package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/jmcleod/pagelock/storage"
)

const (
	journalBucket = "audit"

	// DefaultJournalSize bounds the number of entries kept.
	DefaultJournalSize = 500
)

// Journal keeps the most recent audit entries in a storage repository so
// they can be listed after the fact.
type Journal struct {
	repo   storage.Repository
	max    int
	logger *slog.Logger

	mu sync.Mutex
}

var _ Sink = (*Journal)(nil)

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithJournalSize sets how many entries are retained.
func WithJournalSize(n int) JournalOption {
	return func(j *Journal) {
		if n > 0 {
			j.max = n
		}
	}
}

// WithJournalLogger sets the logger used for write failures.
func WithJournalLogger(logger *slog.Logger) JournalOption {
	return func(j *Journal) {
		j.logger = logger
	}
}

// NewJournal returns a Journal writing to repo.
func NewJournal(repo storage.Repository, opts ...JournalOption) *Journal {
	j := &Journal{repo: repo, max: DefaultJournalSize, logger: slog.Default()}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// entryKey sorts lexically in time order.
func entryKey(e Entry) string {
	return fmt.Sprintf("%020d-%s", e.Timestamp.UnixNano(), e.ID)
}

// Record stores entry and drops the oldest entries beyond the size bound.
// Failures are logged; audit writes never fail the operation being audited.
func (j *Journal) Record(ctx context.Context, entry Entry) {
	ctx = context.WithoutCancel(ctx)
	if err := j.append(ctx, entry); err != nil {
		j.logger.Warn("audit journal write failed", "event", entry.Event, "error", err)
	}
}

func (j *Journal) append(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.repo.Put(ctx, journalBucket, entryKey(entry), data); err != nil {
		return err
	}
	keys, err := j.keys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys[:max(0, len(keys)-j.max)] {
		if err := j.repo.Delete(ctx, journalBucket, k); err != nil && !storage.IsNotFound(err) {
			return err
		}
	}
	return nil
}

func (j *Journal) keys(ctx context.Context) ([]string, error) {
	keys, err := j.repo.List(ctx, journalBucket)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// List returns the retained entries, newest first.
func (j *Journal) List(ctx context.Context) ([]Entry, error) {
	j.mu.Lock()
	keys, err := j.keys(ctx)
	j.mu.Unlock()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		data, err := j.repo.Get(ctx, journalBucket, keys[i])
		if err != nil {
			// Trimmed between List and Get.
			if storage.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			j.logger.Warn("skipping unreadable audit entry", "key", keys[i], "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
