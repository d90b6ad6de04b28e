package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/berfenger/everblu2mqtt/internal/core/domain"
	"github.com/berfenger/everblu2mqtt/internal/core/port"
	"gopkg.in/yaml.v3"
)

type frequencyFile struct {
	Version   int                   `yaml:"version"`
	Frequency domain.FrequencyState `yaml:"frequency"`
}

const frequencyFileVersion = 1

// FileFrequencyStore keeps the calibrated offset in a small YAML file. Writes go
// through a temporary file and a rename.
type FileFrequencyStore struct {
	mu   sync.Mutex
	path string
}

func NewFileFrequencyStore(path string) *FileFrequencyStore {
	return &FileFrequencyStore{path: path}
}

func (s *FileFrequencyStore) Load() (*domain.FrequencyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var file frequencyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if file.Version != frequencyFileVersion {
		return nil, fmt.Errorf("%s: unsupported version %d", s.path, file.Version)
	}
	return &file.Frequency, nil
}

func (s *FileFrequencyStore) Save(state domain.FrequencyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(frequencyFile{Version: frequencyFileVersion, Frequency: state})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// MemoryFrequencyStore is used when no state file is configured, and in tests.
type MemoryFrequencyStore struct {
	mu      sync.Mutex
	state   *domain.FrequencyState
	saves   int
	SaveErr error
}

func NewMemoryFrequencyStore(initial *domain.FrequencyState) *MemoryFrequencyStore {
	return &MemoryFrequencyStore{state: initial}
}

func (s *MemoryFrequencyStore) Load() (*domain.FrequencyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, nil
	}
	state := *s.state
	return &state, nil
}

func (s *MemoryFrequencyStore) Save(state domain.FrequencyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.state = &state
	s.saves++
	return nil
}

func (s *MemoryFrequencyStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// ensure interface compliance
var (
	_ port.FrequencyStore = (*FileFrequencyStore)(nil)
	_ port.FrequencyStore = (*MemoryFrequencyStore)(nil)
)
