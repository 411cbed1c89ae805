package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/erp/commerce-sync/internal/domain/deadletter"
	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DLQStore implements deadletter.Repository with one JSON file per entry.
type DLQStore struct {
	root   string
	lock   *dirLock
	logger *zap.Logger
}

// NewDLQStore creates a store under <dir>/dlq.
func NewDLQStore(dir string, logger *zap.Logger) (*DLQStore, error) {
	root := filepath.Join(dir, "dlq")
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("%w: create dlq directory: %w", deadletter.ErrStorage, err)
	}
	return &DLQStore{
		root:   root,
		lock:   newDirLock(filepath.Join(root, ".lock")),
		logger: logger,
	}, nil
}

func dlqError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", deadletter.ErrStorage, op, err)
}

func (s *DLQStore) entryPath(entity integration.EntityType, id uuid.UUID) string {
	return filepath.Join(s.root, entity.String(), id.String()+".json")
}

// Enqueue writes a new entry file.
func (s *DLQStore) Enqueue(ctx context.Context, e *deadletter.Entry) error {
	if !e.Entity.IsValid() {
		return dlqError("enqueue", fmt.Errorf("%w: %q", integration.ErrUnknownEntity, e.Entity))
	}
	err := s.lock.with(ctx, func() error {
		return writeJSONAtomic(s.entryPath(e.Entity, e.ID), e)
	})
	if err != nil {
		return dlqError("enqueue", err)
	}
	return nil
}

// Get looks the entry up in every entity directory.
func (s *DLQStore) Get(_ context.Context, id uuid.UUID) (*deadletter.Entry, error) {
	path, err := s.find(id)
	if err != nil {
		return nil, err
	}
	var e deadletter.Entry
	if err := readJSON(path, &e); err != nil {
		return nil, dlqError("read entry", err)
	}
	return &e, nil
}

func (s *DLQStore) find(id uuid.UUID) (string, error) {
	for _, entity := range integration.DependencyOrder() {
		path := s.entryPath(entity, id)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", dlqError("stat entry", err)
		}
	}
	return "", deadletter.ErrNotFound
}

// List decodes matching entries, oldest failure first. Unreadable files are
// logged and skipped.
func (s *DLQStore) List(_ context.Context, filter deadletter.Filter) ([]deadletter.Entry, error) {
	entries, err := s.scan(filter)
	if err != nil {
		return nil, err
	}
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}

func (s *DLQStore) scan(filter deadletter.Filter) ([]deadletter.Entry, error) {
	entities := integration.DependencyOrder()
	if filter.Entity != "" {
		entities = []integration.EntityType{filter.Entity}
	}

	var out []deadletter.Entry
	for _, entity := range entities {
		dir := filepath.Join(s.root, entity.String())
		files, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, dlqError("list entries", err)
		}
		for _, f := range files {
			if f.IsDir() || strings.HasPrefix(f.Name(), ".") || filepath.Ext(f.Name()) != ".json" {
				continue
			}
			var e deadletter.Entry
			if err := readJSON(filepath.Join(dir, f.Name()), &e); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				s.logger.Warn("Skipping unreadable DLQ entry",
					zap.String("file", filepath.Join(dir, f.Name())),
					zap.Error(err))
				continue
			}
			if filter.Matches(&e) {
				out = append(out, e)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].FailedAt.Equal(out[j].FailedAt) {
			return out[i].FailedAt.Before(out[j].FailedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// MarkRetried rewrites the entry with an incremented retry count.
func (s *DLQStore) MarkRetried(ctx context.Context, id uuid.UUID, cause error) (*deadletter.Entry, error) {
	var updated *deadletter.Entry
	err := s.lock.with(ctx, func() error {
		path, err := s.find(id)
		if err != nil {
			return err
		}
		var e deadletter.Entry
		if err := readJSON(path, &e); err != nil {
			return err
		}
		e.MarkRetried(cause, time.Now())
		if err := writeJSONAtomic(path, &e); err != nil {
			return err
		}
		updated = &e
		return nil
	})
	if err != nil {
		if errors.Is(err, deadletter.ErrNotFound) || errors.Is(err, deadletter.ErrStorage) {
			return nil, err
		}
		return nil, dlqError("mark retried", err)
	}
	return updated, nil
}

// Delete removes the entry file.
func (s *DLQStore) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.lock.with(ctx, func() error {
		path, err := s.find(id)
		if err != nil {
			return err
		}
		return os.Remove(path)
	})
	if err != nil {
		if errors.Is(err, deadletter.ErrNotFound) || errors.Is(err, deadletter.ErrStorage) {
			return err
		}
		return dlqError("delete entry", err)
	}
	return nil
}

// Purge removes every matching entry. Limit is ignored.
func (s *DLQStore) Purge(ctx context.Context, filter deadletter.Filter) (int, error) {
	filter.Limit = 0
	removed := 0
	err := s.lock.with(ctx, func() error {
		entries, err := s.scan(filter)
		if err != nil {
			return err
		}
		for i := range entries {
			if err := os.Remove(s.entryPath(entries[i].Entity, entries[i].ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, deadletter.ErrStorage) {
			return removed, err
		}
		return removed, dlqError("purge entries", err)
	}
	if removed > 0 {
		s.logger.Info("Purged DLQ entries",
			zap.Int("count", removed),
			zap.String("entity", filter.Entity.String()))
	}
	return removed, nil
}

// Count counts entry files without decoding them.
func (s *DLQStore) Count(_ context.Context, entity integration.EntityType) (int64, error) {
	entities := integration.DependencyOrder()
	if entity != "" {
		entities = []integration.EntityType{entity}
	}
	var n int64
	for _, e := range entities {
		files, err := os.ReadDir(filepath.Join(s.root, e.String()))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, dlqError("count entries", err)
		}
		for _, f := range files {
			if !f.IsDir() && !strings.HasPrefix(f.Name(), ".") && filepath.Ext(f.Name()) == ".json" {
				n++
			}
		}
	}
	return n, nil
}

// Location returns the DLQ directory.
func (s *DLQStore) Location() string {
	return s.root
}

var _ deadletter.Repository = (*DLQStore)(nil)
