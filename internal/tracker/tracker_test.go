package tracker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeledger/internal/models"
	"tradeledger/internal/store"
)

func TestRegistry_SnapshotIsolation(t *testing.T) {
	r := NewRegistry()
	r.Add("ethereum", "0xa", "agent-1")

	snap := r.Snapshot("ethereum")
	r.Add("ethereum", "0xb", "agent-2")
	r.Remove("ethereum", "0xa")

	agent, ok := snap.Agent("0xa")
	assert.True(t, ok)
	assert.Equal(t, "agent-1", agent)
	_, ok = snap.Agent("0xb")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len("ethereum"))
	assert.Empty(t, r.Snapshot("solana"))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Add("ethereum", strings.Repeat("a", i+1), "agent")
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = r.Snapshot("ethereum")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, r.Len("ethereum"))
}

func newManager() (*Manager, *store.MemoryStore) {
	s := store.NewMemoryStore()
	m := NewManager(s, NewRegistry(), map[string]Normalizer{
		"ethereum": func(a string) string { return strings.ToLower(strings.TrimSpace(a)) },
	})
	return m, s
}

func TestManager_AddRemove(t *testing.T) {
	ctx := context.Background()
	m, s := newManager()

	row, err := m.AddTrackedAddress(ctx, "ethereum", " 0xABC ", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", row.Address)

	agent, ok := m.Registry().Snapshot("ethereum").Agent("0xabc")
	require.True(t, ok)
	assert.Equal(t, "agent-1", agent)

	_, err = m.AddTrackedAddress(ctx, "dogechain", "0xabc", "agent-1")
	assert.ErrorIs(t, err, ErrUnknownChain)

	_, err = m.AddTrackedAddress(ctx, "ethereum", "0xabc", " ")
	assert.ErrorIs(t, err, ErrInvalid)

	removed, err := m.RemoveTrackedAddress(ctx, "ethereum", "0xAbC")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, 0, m.Registry().Len("ethereum"))

	rows, err := s.ListTrackedAddresses(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestManager_Load(t *testing.T) {
	ctx := context.Background()
	m, s := newManager()
	require.NoError(t, s.UpsertTrackedAddress(ctx, &models.TrackedAddress{Chain: "ethereum", Address: "0xDEF", AgentID: "agent-9"}))
	require.NoError(t, s.UpsertTrackedAddress(ctx, &models.TrackedAddress{Chain: "tron", Address: "T123", AgentID: "agent-9"}))

	require.NoError(t, m.Load(ctx))
	agent, ok := m.Registry().Snapshot("ethereum").Agent("0xdef")
	assert.True(t, ok)
	assert.Equal(t, "agent-9", agent)
	assert.Equal(t, 0, m.Registry().Len("tron"))
}

func TestManager_HandleMessage(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()

	tests := []struct {
		name    string
		body    string
		tracked int
	}{
		{"add", `{"action":"add","chain":"ethereum","address":"0x1","agent_id":"a"}`, 1},
		{"add second", `{"action":"add","chain":"ethereum","address":"0x2","agent_id":"a"}`, 2},
		{"remove", `{"action":"remove","chain":"ethereum","address":"0x1"}`, 1},
		{"malformed is dropped", `{"action":`, 1},
		{"unknown action is dropped", `{"action":"pause","chain":"ethereum","address":"0x2"}`, 1},
		{"unknown chain is dropped", `{"action":"add","chain":"tron","address":"T1","agent_id":"a"}`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, m.HandleMessage(ctx, []byte(tt.body)))
			assert.Equal(t, tt.tracked, m.Registry().Len("ethereum"))
		})
	}
}

type fakePublisher struct {
	queue  string
	events []AddressEvent
	err    error
}

func (f *fakePublisher) Publish(queue string, message interface{}) error {
	f.queue = queue
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, message.(AddressEvent))
	return nil
}

func TestManager_PublishesEdits(t *testing.T) {
	ctx := context.Background()

	t.Run("add and remove are announced", func(t *testing.T) {
		m, _ := newManager()
		pub := &fakePublisher{}
		m.WithPublisher(pub, "")

		_, err := m.AddTrackedAddress(ctx, "ethereum", "0xABC", "agent-1")
		require.NoError(t, err)
		removed, err := m.RemoveTrackedAddress(ctx, "ethereum", "0xAbc")
		require.NoError(t, err)
		require.True(t, removed)

		assert.Equal(t, DefaultQueue, pub.queue)
		assert.Equal(t, []AddressEvent{
			{Action: ActionAdd, Chain: "ethereum", Address: "0xabc", AgentID: "agent-1"},
			{Action: ActionRemove, Chain: "ethereum", Address: "0xabc"},
		}, pub.events)
	})

	t.Run("rejected or no-op edits are not announced", func(t *testing.T) {
		m, _ := newManager()
		pub := &fakePublisher{}
		m.WithPublisher(pub, "")

		_, err := m.AddTrackedAddress(ctx, "ethereum", "0xabc", "")
		require.Error(t, err)
		removed, err := m.RemoveTrackedAddress(ctx, "ethereum", "0xmissing")
		require.NoError(t, err)
		assert.False(t, removed)
		assert.Empty(t, pub.events)
	})

	t.Run("queue events are applied without echo", func(t *testing.T) {
		m, _ := newManager()
		pub := &fakePublisher{}
		m.WithPublisher(pub, "custom")

		require.NoError(t, m.HandleMessage(ctx, []byte(`{"action":"add","chain":"ethereum","address":"0x1","agent_id":"a"}`)))
		assert.Equal(t, 1, m.Registry().Len("ethereum"))
		assert.Empty(t, pub.events)
	})

	t.Run("publish failure keeps the edit", func(t *testing.T) {
		m, s := newManager()
		m.WithPublisher(&fakePublisher{err: errors.New("channel closed")}, "")

		_, err := m.AddTrackedAddress(ctx, "ethereum", "0x2", "a")
		require.NoError(t, err)
		rows, err := s.ListTrackedAddresses(ctx)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})
}
