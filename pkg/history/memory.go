package history

import (
	"context"
	"sort"
	"sync"
)

type MemoryStore struct {
	mutex   sync.Mutex
	buffer  []Record
	records []Record

	// FlushErr, when set, is returned by the next flushes instead of writing.
	FlushErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, record Record) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.buffer = append(s.buffer, record)

	return nil
}

func (s *MemoryStore) Flush(_ context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	pending := s.buffer
	s.buffer = nil

	if s.FlushErr != nil {
		return s.FlushErr
	}

	for _, record := range pending {
		if record.Latitude < -90 || record.Latitude > 90 || record.Longitude < -180 || record.Longitude > 180 || record.VehicleID == "" {
			return ErrConstraintViolation
		}
	}
	s.records = append(s.records, pending...)

	return nil
}

func (s *MemoryStore) Query(_ context.Context, filter QueryFilter) ([]Record, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var records []Record
	for _, record := range s.records {
		if matches(record, filter) {
			records = append(records, record)
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})

	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}

	return records, nil
}

func matches(record Record, filter QueryFilter) bool {
	if filter.VehicleID != "" && record.VehicleID != filter.VehicleID {
		return false
	}
	if filter.FeedID != "" && record.FeedID != filter.FeedID {
		return false
	}
	if filter.AgencyID != "" && record.AgencyID != filter.AgencyID {
		return false
	}
	if !filter.From.IsZero() && record.Timestamp.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && !record.Timestamp.Before(filter.To) {
		return false
	}

	return true
}

// Records returns everything flushed so far.
func (s *MemoryStore) Records() []Record {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return append([]Record(nil), s.records...)
}

func (s *MemoryStore) Close() error {
	return nil
}
