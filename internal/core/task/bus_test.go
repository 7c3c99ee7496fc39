package task

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ClareAI/astra-telephony-gateway/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu   sync.Mutex
	subs map[string][]func(string)
}

var _ redis.RedisServiceInterface = (*fakeRedis)(nil)

func (f *fakeRedis) GetValue(context.Context, string) (string, error) {
	return "", redis.ErrKeyNotExist
}
func (f *fakeRedis) SetValue(context.Context, string, string, time.Duration) error { return nil }
func (f *fakeRedis) DelValue(context.Context, string) error                        { return nil }
func (f *fakeRedis) Close() error                                                  { return nil }

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	f.mu.Lock()
	handlers := append([]func(string){}, f.subs[channel]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(string(data))
	}
	return nil
}

func (f *fakeRedis) Subscribe(_ context.Context, channel string, handler func(string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = map[string][]func(string){}
	}
	f.subs[channel] = append(f.subs[channel], handler)
	return nil
}

func TestRedisBus_DeliversOnlyToTarget(t *testing.T) {
	r := &fakeRedis{}
	podA := NewRedisBus(r, "pod-a")
	podB := NewRedisBus(r, "pod-b")

	var gotA, gotB []CallTask
	require.NoError(t, podA.Subscribe(context.Background(), func(task CallTask) { gotA = append(gotA, task) }))
	require.NoError(t, podB.Subscribe(context.Background(), func(task CallTask) { gotB = append(gotB, task) }))

	require.NoError(t, podB.Publish(context.Background(), CallTask{Type: TaskTypeHangup, CallSid: "CA1", TargetPod: "pod-a"}))

	require.Len(t, gotA, 1)
	assert.Empty(t, gotB)
	assert.Equal(t, "CA1", gotA[0].CallSid)
	assert.Equal(t, "pod-b", gotA[0].SourcePod)
	assert.Equal(t, TaskTypeHangup, gotA[0].Type)
}

func TestRedisBus_IgnoresGarbage(t *testing.T) {
	r := &fakeRedis{}
	bus := NewRedisBus(r, "pod-a")
	called := false
	require.NoError(t, bus.Subscribe(context.Background(), func(CallTask) { called = true }))

	require.NoError(t, r.Publish(context.Background(), TaskChannel, "not a task"))
	require.NoError(t, r.Publish(context.Background(), TaskChannel, CallTask{Type: TaskTypeHangup, TargetPod: "pod-a"}))
	assert.False(t, called)
}
