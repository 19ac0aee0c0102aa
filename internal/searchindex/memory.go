package searchindex

import (
	"context"
	"sync"
)

// MemoryIndex is the in-process fallback used when no redis address is
// configured.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[uint64]Document
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: map[uint64]Document{}}
}

func (m *MemoryIndex) IndexRecording(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.RecordingID] = doc
	return nil
}

func (m *MemoryIndex) Get(recordingID uint64) (Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[recordingID]
	return doc, ok
}

func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
