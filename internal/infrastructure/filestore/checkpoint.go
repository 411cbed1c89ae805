package filestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/erp/commerce-sync/internal/domain/checkpoint"
	"github.com/erp/commerce-sync/internal/domain/integration"
	"go.uber.org/zap"
)

func checkpointError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", checkpoint.ErrStorage, op, err)
}

// CheckpointStore implements checkpoint.Repository with one JSON file per entity.
type CheckpointStore struct {
	root string
}

// NewCheckpointStore creates a store under <dir>/checkpoints.
func NewCheckpointStore(dir string) (*CheckpointStore, error) {
	root := filepath.Join(dir, "checkpoints")
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, checkpointError("create checkpoint directory", err)
	}
	return &CheckpointStore{root: root}, nil
}

func (s *CheckpointStore) path(entity integration.EntityType) string {
	return filepath.Join(s.root, entity.String()+".json")
}

// Load returns nil, nil when the entity has no checkpoint file.
func (s *CheckpointStore) Load(_ context.Context, entity integration.EntityType) (*checkpoint.Checkpoint, error) {
	var cp checkpoint.Checkpoint
	if err := readJSON(s.path(entity), &cp); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, checkpointError("load checkpoint", err)
	}
	return &cp, nil
}

// Save atomically replaces the checkpoint file of cp.Entity.
func (s *CheckpointStore) Save(_ context.Context, cp *checkpoint.Checkpoint) error {
	if cp == nil || !cp.Entity.IsValid() {
		return checkpointError("save checkpoint", integration.ErrUnknownEntity)
	}
	if err := writeJSONAtomic(s.path(cp.Entity), cp); err != nil {
		return checkpointError("save checkpoint", err)
	}
	return nil
}

// Delete removes the checkpoint file; a missing file is not an error.
func (s *CheckpointStore) Delete(_ context.Context, entity integration.EntityType) error {
	if err := os.Remove(s.path(entity)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return checkpointError("delete checkpoint", err)
	}
	return nil
}

// List returns the checkpoints of every entity that has one, in entity name order.
func (s *CheckpointStore) List(ctx context.Context) ([]checkpoint.Checkpoint, error) {
	var out []checkpoint.Checkpoint
	for _, entity := range integration.DependencyOrder() {
		cp, err := s.Load(ctx, entity)
		if err != nil {
			return nil, err
		}
		if cp != nil {
			out = append(out, *cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity < out[j].Entity })
	return out, nil
}

var _ checkpoint.Repository = (*CheckpointStore)(nil)

// RunStore implements checkpoint.RunRepository as an append-only JSON lines file.
type RunStore struct {
	path   string
	lock   *dirLock
	logger *zap.Logger
}

// NewRunStore creates a store writing <dir>/runs.jsonl.
func NewRunStore(dir string, logger *zap.Logger) (*RunStore, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, checkpointError("create state directory", err)
	}
	return &RunStore{
		path:   filepath.Join(dir, "runs.jsonl"),
		lock:   newDirLock(filepath.Join(dir, ".runs.lock")),
		logger: logger,
	}, nil
}

// Save appends the run as one line.
func (s *RunStore) Save(ctx context.Context, run *checkpoint.RunRecord) error {
	line, err := json.Marshal(run)
	if err != nil {
		return checkpointError("encode run", err)
	}
	line = append(line, '\n')

	err = s.lock.with(ctx, func() error {
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, filePerm)
		if err != nil {
			return err
		}
		if _, err := f.Write(line); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	})
	if err != nil {
		return checkpointError("append run", err)
	}
	return nil
}

// List returns matching runs, newest first. A truncated trailing line left
// by a crash is skipped.
func (s *RunStore) List(_ context.Context, filter checkpoint.RunFilter) ([]checkpoint.RunRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, checkpointError("read runs", err)
	}

	var out []checkpoint.RunRecord
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var run checkpoint.RunRecord
		if err := json.Unmarshal(line, &run); err != nil {
			s.logger.Warn("Skipping malformed run record", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		if filter.Matches(&run) {
			out = append(out, run)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, checkpointError("scan runs", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

var _ checkpoint.RunRepository = (*RunStore)(nil)
