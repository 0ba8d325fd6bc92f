package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"cv-optimizer/internal/domain"
)

// FileJobStore writes one JSON document per job under dir/jobs. Writes go
// through a temp file and rename.
type FileJobStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileJobStore(dir string) (*FileJobStore, error) {
	jobsDir := filepath.Join(dir, "jobs")
	if err := os.MkdirAll(jobsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileJobStore{dir: jobsDir}, nil
}

func (s *FileJobStore) path(id string) (string, error) {
	if !domain.ValidJobID(id) {
		return "", fmt.Errorf("invalid job id %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func (s *FileJobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(id)
	if err != nil {
		return nil, domain.ErrJobNotFound
	}
	return readJobFile(p)
}

func readJobFile(p string) (*domain.Job, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	var j domain.Job
	if err := json.Unmarshal(b, &j); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(p), err)
	}
	return &j, nil
}

func (s *FileJobStore) Put(ctx context.Context, j *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(j.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := readJobFile(p)
	if err != nil && !errors.Is(err, domain.ErrJobNotFound) {
		return err
	}
	if err := checkVersion(stored, j); err != nil {
		return err
	}

	b, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, j.ID+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}
