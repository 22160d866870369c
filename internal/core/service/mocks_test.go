package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"pixcache/internal/core/domain"
	"pixcache/internal/core/port"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	gets    int
	getErr  error
	putErr  error
	delErr  error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (s *memStore) Put(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.puts++
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.gets++
	data, ok := s.objects[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delErr != nil {
		return s.delErr
	}
	delete(s.objects, key)
	return nil
}

func (s *memStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *memStore) keyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type memMeta struct {
	mu    sync.Mutex
	byID  map[string]*domain.CacheEntry
	byURL map[string]string

	// raceWinner simulates a concurrent creator winning between the
	// caller's read and its create.
	raceWinner *domain.CacheEntry

	// missURLReads makes the next n GetByURL calls report a miss,
	// simulating an entry created just after the caller's read.
	missURLReads int
}

func newMemMeta() *memMeta {
	return &memMeta{byID: map[string]*domain.CacheEntry{}, byURL: map[string]string{}}
}

func (m *memMeta) GetByID(_ context.Context, id string) (*domain.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *entry
	return &clone, nil
}

func (m *memMeta) GetByURL(_ context.Context, url string) (*domain.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.missURLReads > 0 {
		m.missURLReads--
		return nil, domain.ErrNotFound
	}
	id, ok := m.byURL[url]
	if !ok {
		return nil, domain.ErrNotFound
	}
	entry, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *entry
	return &clone, nil
}

func (m *memMeta) Create(_ context.Context, entry *domain.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.raceWinner != nil {
		winner := m.raceWinner
		m.raceWinner = nil
		m.byID[winner.ID] = winner
		if winner.SourceURL != "" {
			m.byURL[winner.SourceURL] = winner.ID
		}
		return domain.ErrAlreadyExists
	}
	// Mirrors the redis adapter: the url index is claimed first, so
	// creators racing on one source URL collapse to a single winner.
	if entry.SourceURL != "" {
		if _, ok := m.byURL[entry.SourceURL]; ok {
			return domain.ErrAlreadyExists
		}
	}
	if _, ok := m.byID[entry.ID]; ok {
		return domain.ErrAlreadyExists
	}
	clone := *entry
	m.byID[entry.ID] = &clone
	if entry.SourceURL != "" {
		m.byURL[entry.SourceURL] = entry.ID
	}
	return nil
}

func (m *memMeta) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.byID[id]; ok {
		if entry.SourceURL != "" {
			delete(m.byURL, entry.SourceURL)
		}
		delete(m.byID, id)
	}
	return nil
}

type mockTransformer struct {
	mu        sync.Mutex
	info      port.ImageInfo
	probeErr  error
	deriveErr error
	derives   int
}

func (m *mockTransformer) Probe(_ []byte) (port.ImageInfo, error) {
	if m.probeErr != nil {
		return port.ImageInfo{}, m.probeErr
	}
	return m.info, nil
}

func (m *mockTransformer) Derive(data []byte, source, target domain.CanonicalParams) ([]byte, bool, error) {
	m.mu.Lock()
	m.derives++
	m.mu.Unlock()

	if m.deriveErr != nil {
		return nil, false, m.deriveErr
	}

	resize := target.Width != source.Width || target.Height != source.Height
	reencode := target.Format != source.Format || target.Quality < source.Quality
	if !resize && !reencode {
		return data, false, nil
	}

	out := fmt.Sprintf("derived:%dx%d:%s:q%d", target.Width, target.Height, target.Format, target.Quality)
	return []byte(out), true, nil
}

func (m *mockTransformer) deriveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.derives
}

type mockFetcher struct {
	data  []byte
	err   error
	calls int
}

func (f *mockFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}
