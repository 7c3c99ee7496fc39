package callstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClareAI/astra-telephony-gateway/internal/domain"
)

// entry guards one call record. The sync.Map only ever sees whole entries,
// so per-call mutation never contends with other calls.
type entry struct {
	mu      sync.Mutex
	rec     domain.CallRecord
	removed bool
}

// MemoryStore is the in-process Store. State is lost on restart.
type MemoryStore struct {
	entries sync.Map // map[string]*entry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) GetOrCreate(ctx context.Context, callSid, from, to string) (domain.CallRecord, bool, error) {
	if callSid == "" {
		return domain.CallRecord{}, false, fmt.Errorf("get or create: empty call sid")
	}
	for {
		fresh := &entry{rec: domain.NewCallRecord(callSid, from, to, s.now())}
		actual, loaded := s.entries.LoadOrStore(callSid, fresh)
		e := actual.(*entry)

		e.mu.Lock()
		if e.removed {
			// lost a race with the reaper; the map no longer holds e
			e.mu.Unlock()
			continue
		}
		rec := e.rec
		e.mu.Unlock()
		return rec, !loaded, nil
	}
}

func (s *MemoryStore) Get(ctx context.Context, callSid string) (domain.CallRecord, bool, error) {
	e, ok := s.load(callSid)
	if !ok {
		return domain.CallRecord{}, false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return domain.CallRecord{}, false, nil
	}
	return e.rec, true, nil
}

func (s *MemoryStore) Update(ctx context.Context, callSid string, fn func(rec *domain.CallRecord) error) (domain.CallRecord, error) {
	e, ok := s.load(callSid)
	if !ok {
		return domain.CallRecord{}, fmt.Errorf("update %s: %w", callSid, ErrCallNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return domain.CallRecord{}, fmt.Errorf("update %s: %w", callSid, ErrCallNotFound)
	}

	next := e.rec
	if err := fn(&next); err != nil {
		return e.rec, err
	}
	next.CallSid = e.rec.CallSid
	e.rec = next
	return next, nil
}

func (s *MemoryStore) MarkInactive(ctx context.Context, callSid string) error {
	e, ok := s.load(callSid)
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.removed {
		e.rec.Deactivate(s.now())
	}
	return nil
}

func (s *MemoryStore) ListActive(ctx context.Context) ([]domain.CallRecord, error) {
	active := make([]domain.CallRecord, 0)
	s.entries.Range(func(_, value any) bool {
		e := value.(*entry)
		e.mu.Lock()
		if !e.removed && e.rec.Active {
			active = append(active, e.rec)
		}
		e.mu.Unlock()
		return true
	})
	return active, nil
}

func (s *MemoryStore) Reap(ctx context.Context, cutoff time.Time) (int, error) {
	reaped := 0
	s.entries.Range(func(key, value any) bool {
		if ctx.Err() != nil {
			return false
		}
		e := value.(*entry)
		e.mu.Lock()
		if !e.removed && !e.rec.Active && e.rec.EndedAt != nil && e.rec.EndedAt.Before(cutoff) {
			e.removed = true
			s.entries.CompareAndDelete(key, e)
			reaped++
		}
		e.mu.Unlock()
		return true
	})
	return reaped, ctx.Err()
}

// Len returns the number of records held, active or not.
func (s *MemoryStore) Len() int {
	n := 0
	s.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *MemoryStore) load(callSid string) (*entry, bool) {
	v, ok := s.entries.Load(callSid)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}
