package playerdata

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/networker/channel"
)

type failingStore struct {
	*MemoryStore
	fail atomic.Bool
}

var errDown = stderrors.New("store down")

func (s *failingStore) Save(ctx context.Context, peer channel.PeerID, data Data) error {
	if s.fail.Load() {
		return errDown
	}
	return s.MemoryStore.Save(ctx, peer, data)
}

func TestSessions_OpenLoadsDefaultThenSaved(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := NewSessions(store)

	d, err := s.Open(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, Default(), d.Snapshot())

	again, err := s.Open(ctx, 5)
	require.NoError(t, err)
	assert.Same(t, d, again)

	require.NoError(t, d.AddMoney(40))
	require.NoError(t, s.Close(ctx, 5))
	_, ok := s.Get(5)
	assert.False(t, ok)

	loaded, err := store.Load(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 140, loaded.Money)

	d, err = s.Open(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 140, d.Snapshot().Money)
}

func TestSessions_Hooks(t *testing.T) {
	ctx := context.Background()
	s := NewSessions(NewMemoryStore())

	var mu sync.Mutex
	var opened, saved []channel.PeerID
	s.OnOpened(func(d *Details) {
		mu.Lock()
		opened = append(opened, d.Peer())
		mu.Unlock()
	})
	s.OnSaved(func(d *Details) {
		mu.Lock()
		saved = append(saved, d.Peer())
		mu.Unlock()
	})

	for _, p := range []channel.PeerID{1, 2, 3} {
		_, err := s.Open(ctx, p)
		require.NoError(t, err)
	}
	_, err := s.Open(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, s.SaveAll(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []channel.PeerID{1, 2, 3}, opened)
	assert.ElementsMatch(t, []channel.PeerID{1, 2, 3}, saved)
	assert.Equal(t, 3, s.Len())
}

func TestSessions_CloseDropsEvenWhenSaveFails(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: NewMemoryStore()}
	s := NewSessions(store)
	saved := 0
	s.OnSaved(func(*Details) { saved++ })

	_, err := s.Open(ctx, 8)
	require.NoError(t, err)
	store.fail.Store(true)

	assert.ErrorIs(t, s.Close(ctx, 8), errDown)
	_, ok := s.Get(8)
	assert.False(t, ok)
	assert.Zero(t, saved)

	assert.NoError(t, s.Close(ctx, 8), "closing an unknown peer is a no-op")
}

func TestSessions_SaveUnknownPeer(t *testing.T) {
	s := NewSessions(NewMemoryStore())
	assert.ErrorIs(t, s.Save(context.Background(), 77), channel.ErrPeerGone)
}

func TestSessions_RunAutosavesAndFlushesOnStop(t *testing.T) {
	store := NewMemoryStore()
	s := NewSessions(store)
	var saves atomic.Int32
	s.OnSaved(func(*Details) { saves.Add(1) })

	d, err := s.Open(context.Background(), 3)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, 10*time.Millisecond) }()

	assert.Eventually(t, func() bool { return saves.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, d.Set(FieldMoney, 999))
	cancel()
	require.NoError(t, <-done)

	loaded, err := store.Load(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 999, loaded.Money)
}

func TestSessions_RunRejectsBadInterval(t *testing.T) {
	s := NewSessions(NewMemoryStore())
	assert.Error(t, s.Run(context.Background(), 0))
}

type slowStore struct {
	*MemoryStore
	delay time.Duration
}

func (s slowStore) Load(ctx context.Context, peer channel.PeerID) (Data, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return Data{}, ctx.Err()
	}
	return s.MemoryStore.Load(ctx, peer)
}

func TestSessions_WaitReleasedByOpen(t *testing.T) {
	ctx := context.Background()
	s := NewSessions(NewMemoryStore())

	var wg sync.WaitGroup
	got := make([]*Details, 3)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := s.Wait(ctx, 9)
			assert.NoError(t, err)
			got[i] = d
		}()
	}

	time.Sleep(20 * time.Millisecond)
	opened, err := s.Open(ctx, 9)
	require.NoError(t, err)
	wg.Wait()
	for _, d := range got {
		assert.Same(t, opened, d)
	}

	d, err := s.Wait(ctx, 9)
	require.NoError(t, err)
	assert.Same(t, opened, d, "an open session returns at once")
}

func TestSessions_WaitBoundedByContext(t *testing.T) {
	s := NewSessions(NewMemoryStore())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := s.Wait(ctx, 10)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "no data loaded")
}
