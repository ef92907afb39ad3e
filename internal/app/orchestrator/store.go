package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mfdoom84/automatevnc/internal/domain/run"
)

const (
	metadataFile   = "metadata.json"
	logFile        = "execution.log"
	screenshotFile = "failure.png"
	runDirPrefix   = "run_"
)

// runStore persists one directory per run: a JSON metadata document, an
// append-only log and an optional failure screenshot.
type runStore struct {
	dir string
}

func (s runStore) runDir(id string) string {
	return filepath.Join(s.dir, runDirPrefix+id)
}

func (s runStore) logPath(id string) string {
	return filepath.Join(s.runDir(id), logFile)
}

func (s runStore) screenshotPath(id string) string {
	return filepath.Join(s.runDir(id), screenshotFile)
}

func (s runStore) ensureDir(id string) error {
	if err := os.MkdirAll(s.runDir(id), 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}
	return nil
}

func (s runStore) saveMetadata(r run.Run) error {
	if err := s.ensureDir(r.ID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run metadata: %w", err)
	}
	path := filepath.Join(s.runDir(r.ID), metadataFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write run metadata: %w", err)
	}
	return nil
}

func (s runStore) loadMetadata(id string) (run.Run, error) {
	data, err := os.ReadFile(filepath.Join(s.runDir(id), metadataFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return run.Run{}, fmt.Errorf("run %q: %w", id, run.ErrNotFound)
		}
		return run.Run{}, fmt.Errorf("read run metadata: %w", err)
	}
	var r run.Run
	if err := json.Unmarshal(data, &r); err != nil {
		return run.Run{}, fmt.Errorf("decode run metadata: %w", err)
	}
	return r, nil
}

// appendLog writes one UTC-timestamped line to the run's log file.
func (s runStore) appendLog(id, message string) error {
	if err := s.ensureDir(id); err != nil {
		return err
	}
	f, err := os.OpenFile(s.logPath(id), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}
	defer f.Close()
	line := fmt.Sprintf("[%s] %s\n", time.Now().UTC().Format(time.RFC3339Nano), message)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append run log: %w", err)
	}
	return nil
}

func (s runStore) readLog(id string) (string, error) {
	data, err := os.ReadFile(s.logPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read run log: %w", err)
	}
	return string(data), nil
}

// remove deletes the run directory with all artifacts.
func (s runStore) remove(id string) error {
	if err := os.RemoveAll(s.runDir(id)); err != nil {
		return fmt.Errorf("delete run directory: %w", err)
	}
	return nil
}

// listIDs returns the ids of all persisted runs.
func (s runStore) listIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() && len(entry.Name()) > len(runDirPrefix) && entry.Name()[:len(runDirPrefix)] == runDirPrefix {
			ids = append(ids, entry.Name()[len(runDirPrefix):])
		}
	}
	return ids, nil
}
