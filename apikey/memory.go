package apikey

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local [Store] for tests and single-instance
// embedding.
type MemoryStore struct {
	mu   sync.Mutex
	byID map[string]*Key
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[string]*Key{}}
}

func (m *MemoryStore) CreateKey(_ context.Context, k *Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Prefix == k.Prefix {
			return ErrPrefixTaken
		}
	}
	cp := *k
	cp.Metadata = cloneMeta(k.Metadata)
	m.byID[k.ID] = &cp
	return nil
}

func (m *MemoryStore) KeyByPrefix(_ context.Context, prefix string) (*Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.byID {
		if k.Prefix == prefix {
			cp := *k
			cp.Metadata = cloneMeta(k.Metadata)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) KeyByID(_ context.Context, id string) (*Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *k
	cp.Metadata = cloneMeta(k.Metadata)
	return &cp, nil
}

func (m *MemoryStore) RecordUse(_ context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	k.UsageCount++
	k.LastUsed = &now
	return nil
}

func (m *MemoryStore) DeactivateKey(_ context.Context, id string, meta map[string]string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	k.Active = false
	k.UpdatedAt = now
	if k.Metadata == nil {
		k.Metadata = map[string]string{}
	}
	for name, v := range meta {
		k.Metadata[name] = v
	}
	return nil
}

func (m *MemoryStore) ListKeys(_ context.Context, owner string) ([]Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Key, 0, len(m.byID))
	for _, k := range m.byID {
		if owner != "" && k.CreatedBy != owner {
			continue
		}
		cp := *k
		cp.Metadata = cloneMeta(k.Metadata)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) DeactivateExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range m.byID {
		if !k.Active || !k.Expired(now) {
			continue
		}
		k.Active = false
		k.UpdatedAt = now
		if k.Metadata == nil {
			k.Metadata = map[string]string{}
		}
		k.Metadata["autoExpiredAt"] = now.Format(time.RFC3339)
		n++
	}
	return n, nil
}

func cloneMeta(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
