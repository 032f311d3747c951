package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"SignalFuse/internal/domain/models"
	"SignalFuse/pkg/cache"
)

// FileStateStore keeps the weight set and the Q-table as JSON documents in a
// directory. Writes go through a temp file and a rename so a crash never
// leaves a half-written document behind.
type FileStateStore struct {
	mu          sync.Mutex
	dir         string
	weightsFile string
	qtableFile  string
}

func NewFileStateStore(dir, weightsFile, qtableFile string) *FileStateStore {
	return &FileStateStore{dir: dir, weightsFile: weightsFile, qtableFile: qtableFile}
}

func (s *FileStateStore) LoadWeights(_ context.Context) (models.WeightSet, error) {
	var w models.WeightSet
	found, err := s.read(s.weightsFile, &w)
	if err != nil {
		return models.DefaultWeightSet(), err
	}
	if !found {
		return models.DefaultWeightSet(), nil
	}
	return w, nil
}

func (s *FileStateStore) SaveWeights(_ context.Context, w models.WeightSet) error {
	return s.write(s.weightsFile, w)
}

func (s *FileStateStore) LoadQTable(_ context.Context) (map[string]map[string]float64, error) {
	table := map[string]map[string]float64{}
	if _, err := s.read(s.qtableFile, &table); err != nil {
		return map[string]map[string]float64{}, err
	}
	return table, nil
}

func (s *FileStateStore) SaveQTable(_ context.Context, table map[string]map[string]float64) error {
	return s.write(s.qtableFile, table)
}

func (s *FileStateStore) read(name string, dest any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}

func (s *FileStateStore) write(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("state dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

// CacheStateStore keeps the same documents in a cache.Service, normally Redis,
// so several processes share one weight set and one Q-table.
type CacheStateStore struct {
	c          cache.Service
	weightsKey string
	qtableKey  string
}

func NewCacheStateStore(c cache.Service, weightsKey, qtableKey string) *CacheStateStore {
	return &CacheStateStore{
		c:          c,
		weightsKey: cache.GenerateKey("state", weightsKey),
		qtableKey:  cache.GenerateKey("state", qtableKey),
	}
}

func (s *CacheStateStore) LoadWeights(ctx context.Context) (models.WeightSet, error) {
	var w models.WeightSet
	if err := s.c.Get(ctx, s.weightsKey, &w); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return models.DefaultWeightSet(), nil
		}
		return models.DefaultWeightSet(), fmt.Errorf("load weights: %w", err)
	}
	return w, nil
}

func (s *CacheStateStore) SaveWeights(ctx context.Context, w models.WeightSet) error {
	if err := s.c.Set(ctx, s.weightsKey, w, 0); err != nil {
		return fmt.Errorf("save weights: %w", err)
	}
	return nil
}

func (s *CacheStateStore) LoadQTable(ctx context.Context) (map[string]map[string]float64, error) {
	table := map[string]map[string]float64{}
	if err := s.c.Get(ctx, s.qtableKey, &table); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return map[string]map[string]float64{}, nil
		}
		return map[string]map[string]float64{}, fmt.Errorf("load q-table: %w", err)
	}
	return table, nil
}

func (s *CacheStateStore) SaveQTable(ctx context.Context, table map[string]map[string]float64) error {
	if err := s.c.Set(ctx, s.qtableKey, table, 0); err != nil {
		return fmt.Errorf("save q-table: %w", err)
	}
	return nil
}
