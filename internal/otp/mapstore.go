package otp

import (
	"context"
	"sync"
	"time"

	"otpauth/internal/models"
)

// MapStore is a process-local RecordStore. Paired with DurableLedger it
// gives the strict verified/consumed protocol without an external database;
// records do not survive a restart.
type MapStore struct {
	mu      sync.Mutex
	records map[string]models.OneTimeCode
}

func NewMapStore() *MapStore {
	return &MapStore{records: make(map[string]models.OneTimeCode)}
}

func (s *MapStore) Find(_ context.Context, email, purpose string) (models.OneTimeCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[lockKey(email, Purpose(purpose))]
	if !ok {
		return models.OneTimeCode{}, ErrRecordNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MapStore) Replace(_ context.Context, rec models.OneTimeCode) error {
	s.mu.Lock()
	s.records[lockKey(rec.Email, Purpose(rec.Purpose))] = cloneRecord(rec)
	s.mu.Unlock()
	return nil
}

func (s *MapStore) Update(_ context.Context, rec models.OneTimeCode) error {
	k := lockKey(rec.Email, Purpose(rec.Purpose))
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[k]
	if !ok || cur.CodeHash != rec.CodeHash {
		return ErrRecordNotFound
	}
	s.records[k] = cloneRecord(rec)
	return nil
}

func (s *MapStore) Delete(_ context.Context, rec models.OneTimeCode) error {
	k := lockKey(rec.Email, Purpose(rec.Purpose))
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.records[k]; ok && cur.CodeHash == rec.CodeHash {
		delete(s.records, k)
	}
	return nil
}

func (s *MapStore) DeleteAll(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, rec := range s.records {
		if rec.Email == email {
			delete(s.records, k)
		}
	}
	return nil
}

// Sweep drops records that expired before now, standing in for the TTL
// index a database store would use.
func (s *MapStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, k)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *MapStore) Run(ctx context.Context, interval time.Duration, now func() time.Time) {
	if interval <= 0 {
		return
	}
	if now == nil {
		now = time.Now
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(now())
		}
	}
}

func (s *MapStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func cloneRecord(rec models.OneTimeCode) models.OneTimeCode {
	if rec.VerifiedAt != nil {
		t := *rec.VerifiedAt
		rec.VerifiedAt = &t
	}
	return rec
}
