package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/timzifer/regimen/disease"
	"github.com/timzifer/regimen/treatment"
)

// ErrNotFound is returned when no snapshot exists for an id.
var ErrNotFound = errors.New("snapshot not found")

// World is the host state saved with the treatment snapshots: the world
// clock and every disease the treatments act on.
type World struct {
	At       time.Time                `yaml:"at"`
	Diseases map[string]disease.State `yaml:"diseases"`
}

// Store persists treatment snapshots by node id, plus one World record.
type Store interface {
	Save(ctx context.Context, id string, snap treatment.Snapshot) error
	Load(ctx context.Context, id string) (treatment.Snapshot, error)
	List(ctx context.Context) ([]string, error)
	SaveWorld(ctx context.Context, w World) error
	LoadWorld(ctx context.Context) (World, error)
}

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]treatment.Snapshot
	world *World
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]treatment.Snapshot)}
}

func (s *MemoryStore) Save(_ context.Context, id string, snap treatment.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = snap
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (treatment.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.items[id]
	if !ok {
		return treatment.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return snap, nil
}

func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) SaveWorld(_ context.Context, w World) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.world = &w
	return nil
}

func (s *MemoryStore) LoadWorld(_ context.Context) (World, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.world == nil {
		return World{}, fmt.Errorf("%w: world", ErrNotFound)
	}
	return *s.world, nil
}

// worldFile does not end in .yaml, so List never reports it as a node.
const worldFile = "world.yml"

var safeID = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// FileStore writes one YAML document per node into a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(id string) (string, error) {
	if !safeID.MatchString(id) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid snapshot id %q", id)
	}
	return filepath.Join(s.dir, id+".yaml"), nil
}

func (s *FileStore) Save(ctx context.Context, id string, snap treatment.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(id)
	if err != nil {
		return err
	}
	payload, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", id, err)
	}
	return s.write(path, id, payload)
}

func (s *FileStore) write(path, id string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write snapshot %s: %w", id, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace snapshot %s: %w", id, err)
	}
	return nil
}

func (s *FileStore) read(path, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read snapshot %s: %w", id, err)
	}
	return raw, nil
}

func (s *FileStore) Load(ctx context.Context, id string) (treatment.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return treatment.Snapshot{}, err
	}
	path, err := s.path(id)
	if err != nil {
		return treatment.Snapshot{}, err
	}
	raw, err := s.read(path, id)
	if err != nil {
		return treatment.Snapshot{}, err
	}
	var snap treatment.Snapshot
	if err := yaml.Unmarshal(raw, &snap); err != nil {
		return treatment.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return snap, nil
}

func (s *FileStore) SaveWorld(ctx context.Context, w World) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := yaml.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode world: %w", err)
	}
	return s.write(filepath.Join(s.dir, worldFile), "world", payload)
}

func (s *FileStore) LoadWorld(ctx context.Context) (World, error) {
	if err := ctx.Err(); err != nil {
		return World{}, err
	}
	raw, err := s.read(filepath.Join(s.dir, worldFile), "world")
	if err != nil {
		return World{}, err
	}
	var w World
	if err := yaml.Unmarshal(raw, &w); err != nil {
		return World{}, fmt.Errorf("decode world: %w", err)
	}
	return w, nil
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".yaml"))
	}
	sort.Strings(ids)
	return ids, nil
}
