package remote

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryDoc struct {
	fields    Fields
	updatedAt time.Time
}

// MemoryGateway keeps documents in process memory.
type MemoryGateway struct {
	mu          sync.RWMutex
	collections map[string]map[string]memoryDoc
	now         func() time.Time
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		collections: make(map[string]map[string]memoryDoc),
		now:         time.Now,
	}
}

func (m *MemoryGateway) Upsert(ctx context.Context, collection, key string, fields Fields) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if key == "" {
		key = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	docs, ok := m.collections[collection]
	if !ok {
		docs = make(map[string]memoryDoc)
		m.collections[collection] = docs
	}
	docs[key] = memoryDoc{fields: copyFields(fields), updatedAt: m.now()}
	return key, nil
}

func (m *MemoryGateway) FetchAll(ctx context.Context, collection string) ([]Document, error) {
	return m.fetch(ctx, collection, time.Time{})
}

func (m *MemoryGateway) FetchSince(ctx context.Context, collection string, since time.Time) ([]Document, error) {
	return m.fetch(ctx, collection, since)
}

func (m *MemoryGateway) fetch(ctx context.Context, collection string, since time.Time) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Document, 0, len(m.collections[collection]))
	for key, doc := range m.collections[collection] {
		if !since.IsZero() && !doc.updatedAt.After(since) {
			continue
		}
		out = append(out, Document{Key: key, Fields: copyFields(doc.fields)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryGateway) Delete(ctx context.Context, collection, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[collection], key)
	return nil
}

// Get returns a copy of one document.
func (m *MemoryGateway) Get(collection, key string) (Fields, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.collections[collection][key]
	if !ok {
		return nil, false
	}
	return copyFields(doc.fields), true
}

// Len returns the number of documents in a collection.
func (m *MemoryGateway) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection])
}

func copyFields(in Fields) Fields {
	out := make(Fields, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
