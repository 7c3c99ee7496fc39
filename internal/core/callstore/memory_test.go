package callstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ClareAI/astra-telephony-gateway/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreate_DuplicateKeepsState(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec, created, err := s.GetOrCreate(ctx, "CA1", "+15551234567", "+15555678901")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.DialogStateGreeting, rec.State)

	_, err = s.Update(ctx, "CA1", func(r *domain.CallRecord) error {
		r.State = domain.DialogStateAwaitingInput
		return nil
	})
	require.NoError(t, err)

	dup, created, err := s.GetOrCreate(ctx, "CA1", "+19999999999", "+18888888888")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, domain.DialogStateAwaitingInput, dup.State)
	assert.Equal(t, "+15551234567", dup.From)
	assert.Equal(t, 1, s.Len())
}

func TestGetOrCreate_ConcurrentSameID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := s.GetOrCreate(ctx, "CA1", "a", "b")
			assert.NoError(t, err)
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount)
	assert.Equal(t, 1, s.Len())
}

func TestGetOrCreate_EmptyID(t *testing.T) {
	_, _, err := NewMemoryStore().GetOrCreate(context.Background(), "", "a", "b")
	assert.Error(t, err)
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, ok, err := s.Get(ctx, "CA404")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, _ = s.GetOrCreate(ctx, "CA1", "a", "b")
	rec, ok, err := s.Get(ctx, "CA1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "CA1", rec.CallSid)
}

func TestUpdate_NoLostUpdates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _, _ = s.GetOrCreate(ctx, "CA1", "a", "b")

	const writers = 100
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "CA1", func(r *domain.CallRecord) error {
				r.Turns++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, _, _ := s.Get(ctx, "CA1")
	assert.Equal(t, writers, rec.Turns)
}

func TestUpdate_ErrorLeavesRecord(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _, _ = s.GetOrCreate(ctx, "CA1", "a", "b")

	boom := errors.New("boom")
	_, err := s.Update(ctx, "CA1", func(r *domain.CallRecord) error {
		r.State = domain.DialogStateTerminated
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rec, _, _ := s.Get(ctx, "CA1")
	assert.Equal(t, domain.DialogStateGreeting, rec.State)
}

func TestUpdate_Missing(t *testing.T) {
	_, err := NewMemoryStore().Update(context.Background(), "CA404", func(r *domain.CallRecord) error { return nil })
	assert.ErrorIs(t, err, ErrCallNotFound)
}

func TestUpdate_RacingTerminationResolvesConsistently(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _, _ = s.GetOrCreate(ctx, "CA1", "a", "b")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = s.Update(ctx, "CA1", func(r *domain.CallRecord) error {
			if r.Active {
				r.State = domain.DialogStateAwaitingInput
			}
			return nil
		})
	}()
	go func() {
		defer wg.Done()
		_, _ = s.Update(ctx, "CA1", func(r *domain.CallRecord) error {
			r.State = domain.DialogStateTerminated
			r.Deactivate(time.Now())
			return nil
		})
	}()
	wg.Wait()

	rec, _, _ := s.Get(ctx, "CA1")
	assert.False(t, rec.Active)
	assert.Equal(t, domain.DialogStateTerminated, rec.State)
}

func TestMarkInactive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.MarkInactive(ctx, "CA404"))

	_, _, _ = s.GetOrCreate(ctx, "CA1", "a", "b")
	require.NoError(t, s.MarkInactive(ctx, "CA1"))
	first, _, _ := s.Get(ctx, "CA1")
	require.NotNil(t, first.EndedAt)

	require.NoError(t, s.MarkInactive(ctx, "CA1"))
	second, _, _ := s.Get(ctx, "CA1")
	assert.False(t, second.Active)
	assert.Equal(t, *first.EndedAt, *second.EndedAt)
}

func TestListActive_ConcurrentIncomingAndTermination(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	const calls = 200
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		id := fmt.Sprintf("CA%d", i)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := s.GetOrCreate(ctx, id, "a", "b")
			assert.NoError(t, err)
			if i%2 == 0 {
				assert.NoError(t, s.MarkInactive(ctx, id))
			}
		}(i)
	}
	wg.Wait()

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, calls/2)

	seen := make(map[string]bool)
	for _, rec := range active {
		assert.True(t, rec.Active)
		seen[rec.CallSid] = true
	}
	for i := 1; i < calls; i += 2 {
		assert.True(t, seen[fmt.Sprintf("CA%d", i)])
	}
}

func TestReap(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, _, _ = s.GetOrCreate(ctx, "CA-old", "a", "b")
	_, _, _ = s.GetOrCreate(ctx, "CA-live", "a", "b")
	require.NoError(t, s.MarkInactive(ctx, "CA-old"))

	n, err := s.Reap(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, _ := s.Get(ctx, "CA-old")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "CA-live")
	assert.True(t, ok)

	// a reaped identifier starts over as a fresh call
	rec, created, err := s.GetOrCreate(ctx, "CA-old", "a", "b")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, rec.Active)
}

func TestReap_KeepsRecentlyEnded(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _, _ = s.GetOrCreate(ctx, "CA1", "a", "b")
	require.NoError(t, s.MarkInactive(ctx, "CA1"))

	n, err := s.Reap(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, s.Len())
}

func TestStartReaper_StopsOnCancel(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		StartReaper(ctx, s, 5*time.Millisecond, time.Millisecond)
		close(done)
	}()

	_, _, _ = s.GetOrCreate(context.Background(), "CA1", "a", "b")
	require.NoError(t, s.MarkInactive(context.Background(), "CA1"))

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
