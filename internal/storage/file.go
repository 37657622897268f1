package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"adflow/pkg/logx"
)

// fileStore is a dependency-free audit backend: one append-only JSON Lines
// file of execution entries.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	path string
	file *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path, file: f}, nil
}

func (s *fileStore) AppendExecution(ctx context.Context, e ExecutionEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.file).Encode(e)
}

func (s *fileStore) RecentExecutions(ctx context.Context, limit int) ([]ExecutionEntry, error) {
	_ = ctx
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	path := s.path
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	// Scan the whole file and keep the tail. Audit files are pruned by
	// rotation outside the process; this stays simple on purpose.
	var entries []ExecutionEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e ExecutionEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			// Skip corrupt lines (partial write on crash).
			continue
		}
		entries = append(entries, e)
		if len(entries) > limit*2 {
			entries = append(entries[:0], entries[len(entries)-limit:]...)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
