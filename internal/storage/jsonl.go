package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// JsonlTokenStore keeps token mappings in a JSONL file, one mapping per line.
// It serves single-instance deployments without a database.
type JsonlTokenStore struct {
	path     string
	mu       sync.Mutex
	mappings []TokenMapping
}

// OpenJsonlTokenStore loads the mappings stored at path. A missing file is an empty store.
func OpenJsonlTokenStore(path string) (*JsonlTokenStore, error) {
	s := &JsonlTokenStore{path: path}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open token file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var m TokenMapping
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			return nil, fmt.Errorf("decode token file line %d: %w", line, err)
		}
		if s.index(m.User, m.Token) < 0 {
			s.mappings = append(s.mappings, m)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	return s, nil
}

func (s *JsonlTokenStore) index(user common.Address, token string) int {
	for i, m := range s.mappings {
		if m.User == user && m.Token == token {
			return i
		}
	}
	return -1
}

// AddToken appends a mapping to the file.
func (s *JsonlTokenStore) AddToken(_ context.Context, user common.Address, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index(user, token) >= 0 {
		return ErrTokenExists
	}

	if err := s.ensureDir(); err != nil {
		return err
	}
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open token file: %w", err)
	}
	defer file.Close()

	m := TokenMapping{User: user, Token: token}
	line, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal token mapping: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write token mapping: %w", err)
	}
	s.mappings = append(s.mappings, m)
	return nil
}

// DeleteToken rewrites the file without the mapping. Unknown mappings are ignored.
func (s *JsonlTokenStore) DeleteToken(_ context.Context, user common.Address, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(user, token)
	if i < 0 {
		return nil
	}
	remaining := make([]TokenMapping, 0, len(s.mappings)-1)
	remaining = append(remaining, s.mappings[:i]...)
	remaining = append(remaining, s.mappings[i+1:]...)
	if err := s.rewrite(remaining); err != nil {
		return err
	}
	s.mappings = remaining
	return nil
}

func (s *JsonlTokenStore) ListTokens(context.Context) ([]TokenMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TokenMapping, len(s.mappings))
	copy(out, s.mappings)
	return out, nil
}

func (s *JsonlTokenStore) ensureDir() error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create token dir: %w", err)
		}
	}
	return nil
}

// rewrite replaces the file atomically through a temp file in the same directory.
func (s *JsonlTokenStore) rewrite(mappings []TokenMapping) error {
	if err := s.ensureDir(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tokens-*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	writer := bufio.NewWriter(tmp)
	for _, m := range mappings {
		line, err := json.Marshal(m)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("marshal token mapping: %w", err)
		}
		if _, err := writer.Write(append(line, '\n')); err != nil {
			tmp.Close()
			return fmt.Errorf("write token mapping: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}
