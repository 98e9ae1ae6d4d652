package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRecordStore provides an in-memory RecordStore.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryRecordStore creates an in-memory record store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

func recordKey(table, name string, id int64) string {
	return fmt.Sprintf("%s/%s/%d", table, name, id)
}

func (s *MemoryRecordStore) Get(ctx context.Context, table, name string, id int64) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[recordKey(table, name, id)]
	if !ok {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}

func (s *MemoryRecordStore) Put(ctx context.Context, record *Record) error {
	if err := record.validate(); err != nil {
		return err
	}
	stored := record.Clone()
	stored.UpdatedAt = s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Key()] = stored
	record.UpdatedAt = stored.UpdatedAt
	return nil
}

func (s *MemoryRecordStore) Delete(ctx context.Context, table, name string, id int64) error {
	key := recordKey(table, name, id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[key]; !exists {
		return ErrNotFound
	}
	delete(s.records, key)
	return nil
}

func (s *MemoryRecordStore) List(ctx context.Context, table, name string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]*Record, 0)
	for _, record := range s.records {
		if record.Table != table || record.Name != name {
			continue
		}
		records = append(records, record.Clone())
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
	return records, nil
}

// Len returns the number of stored records.
func (s *MemoryRecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryRecordStore) Close() error {
	return nil
}
