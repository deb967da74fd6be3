package offline

import (
	"context"
	"sort"
	"sync"
)

// CacheStorage holds named cache partitions.
// Implementations must be safe for concurrent use.
type CacheStorage interface {
	// Open makes sure the named partition exists.
	Open(ctx context.Context, partition string) error

	// Match returns the entry stored under key in partition.
	// Returns nil, nil if there is none.
	Match(ctx context.Context, partition, key string) (*Entry, error)

	// Put stores e in partition, replacing any entry with the same key.
	Put(ctx context.Context, partition string, e *Entry) error

	// Partitions lists every partition name.
	Partitions(ctx context.Context) ([]string, error)

	// DeletePartition removes a partition and all its entries.
	DeletePartition(ctx context.Context, partition string) error
}

// MemoryStorage is an in-process CacheStorage.
type MemoryStorage struct {
	mu         sync.RWMutex
	partitions map[string]map[string]*Entry
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{partitions: make(map[string]map[string]*Entry)}
}

func (s *MemoryStorage) Open(_ context.Context, partition string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.partitions[partition]; !ok {
		s.partitions[partition] = make(map[string]*Entry)
	}
	return nil
}

func (s *MemoryStorage) Match(_ context.Context, partition, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.partitions[partition][key]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStorage) Put(_ context.Context, partition string, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[partition]
	if !ok {
		p = make(map[string]*Entry)
		s.partitions[partition] = p
	}
	cp := *e
	p[e.Key] = &cp
	return nil
}

func (s *MemoryStorage) Partitions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStorage) DeletePartition(_ context.Context, partition string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.partitions, partition)
	return nil
}
