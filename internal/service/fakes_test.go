package service

import (
	"context"
	"encoding/json"
	"path"
	"sync"
	"time"

	appErrors "github.com/noah-isme/school-admin-api/pkg/errors"
)

type memoryCacheRepo struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
	deleted []string
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{entries: map[string][]byte{}}
}

func (m *memoryCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = raw
	m.sets++
	return nil
}

func (m *memoryCacheRepo) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
		m.deleted = append(m.deleted, k)
	}
	return nil
}

func (m *memoryCacheRepo) DeleteByPattern(_ context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if ok, _ := path.Match(pattern, k); ok {
			delete(m.entries, k)
			m.deleted = append(m.deleted, k)
		}
	}
	return nil
}

func (m *memoryCacheRepo) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

func newTestCache(repo *memoryCacheRepo) *CacheService {
	return NewCacheService(repo, nil, time.Minute, nil, true)
}

func strPtr(s string) *string { return &s }
