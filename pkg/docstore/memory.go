package docstore

import (
	"context"
	"sync"
)

type paragraphKey struct {
	doc, para string
}

// MemoryStore keeps paragraphs in process memory.
type MemoryStore struct {
	mu         sync.RWMutex
	paragraphs map[paragraphKey]Paragraph
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{paragraphs: make(map[paragraphKey]Paragraph)}
}

func (s *MemoryStore) GetParagraph(_ context.Context, docID, paraID string) (*Paragraph, error) {
	if err := validateIDs(docID, paraID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	p, ok := s.paragraphs[paragraphKey{docID, paraID}]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) SaveParagraph(_ context.Context, p *Paragraph) error {
	if err := validateIDs(p.DocumentID, p.ParagraphID); err != nil {
		return err
	}
	stamp(p)
	s.mu.Lock()
	s.paragraphs[paragraphKey{p.DocumentID, p.ParagraphID}] = *p
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close(context.Context) error { return nil }

// Len returns the number of stored paragraphs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.paragraphs)
}
