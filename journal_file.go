package resourcesaga

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileJournal persists each run as a JSON file in a directory.
type FileJournal struct {
	basePath string
	mu       sync.Mutex // Protects file operations
}

// NewFileJournal creates the directory if needed.
func NewFileJournal(basePath string) (*FileJournal, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	return &FileJournal{basePath: basePath}, nil
}

// Save writes the run to <basePath>/<runID>.json.
func (f *FileJournal) Save(_ context.Context, rec RunRecord) error {
	path, err := f.filename(rec.RunID)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	rec.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	// Write through a temp file so a crash never leaves half a record.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write run file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write run file: %w", err)
	}
	return nil
}

// Load reads one run.
func (f *FileJournal) Load(_ context.Context, runID string) (*RunRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path, err := f.filename(runID)
	if err != nil {
		return nil, err
	}
	return f.read(path)
}

// List reads every run in the directory, ordered by run id.
func (f *FileJournal) List(_ context.Context, statuses ...RunStatus) ([]RunRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal directory: %w", err)
	}

	var out []RunRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rec, err := f.read(filepath.Join(f.basePath, e.Name()))
		if err != nil {
			return nil, err
		}
		if matchStatus(rec.Status, statuses) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return out, nil
}

// Delete removes the run file. Deleting a missing run is not an error.
func (f *FileJournal) Delete(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path, err := f.filename(runID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete run file: %w", err)
	}
	return nil
}

func (f *FileJournal) read(path string) (*RunRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to read run file: %w", err)
	}

	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", filepath.Base(path), err)
	}
	return &rec, nil
}

// filename only accepts canonical UUIDs so a run id can never name a file
// outside basePath.
func (f *FileJournal) filename(runID string) (string, error) {
	id, err := uuid.Parse(runID)
	if err != nil || id.String() != runID {
		return "", fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}
	return filepath.Join(f.basePath, runID+".json"), nil
}
