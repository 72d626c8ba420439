package reconciler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~jakintosh/orden/internal/domain"
	"git.sr.ht/~jakintosh/orden/internal/reorder"
)

// server is an in-memory stand-in for the persistence bridge.
type server struct {
	mu      sync.Mutex
	order   []string
	fetches atomic.Int32
	calls   [][]domain.RankUpdate
	persist func(ctx context.Context, call int, updates []domain.RankUpdate) error
}

func newServer(ids ...string) *server {
	return &server{order: ids}
}

func (s *server) Fetch(ctx context.Context) ([]*domain.Item, error) {
	s.fetches.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]*domain.Item, len(s.order))
	for i, id := range s.order {
		items[i] = &domain.Item{ID: id}
		items[i].SetRank(i + domain.RankBase)
	}
	return items, nil
}

func (s *server) Persist(ctx context.Context, updates []domain.RankUpdate) error {
	s.mu.Lock()
	call := len(s.calls)
	s.calls = append(s.calls, updates)
	hook := s.persist
	s.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, call, updates); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	order := make([]string, len(updates))
	for _, u := range updates {
		order[u.Orden-domain.RankBase] = u.ID
	}
	s.order = order
	return nil
}

func (s *server) persistCalls() [][]domain.RankUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]domain.RankUpdate(nil), s.calls...)
}

type notices struct {
	mu   sync.Mutex
	msgs []string
}

func (n *notices) Notice(kind NoticeKind, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if kind == NoticeError {
		n.msgs = append(n.msgs, msg)
	}
}

func (n *notices) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

func newReconciler(t *testing.T, srv *server, debounce time.Duration, n Notifier) *Reconciler[*domain.Item] {
	t.Helper()
	r := New(Options[*domain.Item]{
		Fetch:    srv.Fetch,
		Persist:  srv.Persist,
		IDOf:     reorder.ItemID,
		SetRank:  (*domain.Item).SetRank,
		Debounce: debounce,
		Notifier: n,
	})
	t.Cleanup(r.Close)
	require.NoError(t, r.Load(context.Background()))
	return r
}

func visible(r *Reconciler[*domain.Item]) []string {
	items := r.Items()
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func flush(t *testing.T, r interface{ Flush(context.Context) error }) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.Flush(ctx)
}

func TestMoveShowsNewOrderBeforePersistCompletes(t *testing.T) {
	srv := newServer("A", "B", "C")
	release := make(chan struct{})
	srv.persist = func(ctx context.Context, call int, updates []domain.RankUpdate) error {
		<-release
		return nil
	}
	r := newReconciler(t, srv, 0, &notices{})

	moved, err := r.Move("C", "A")
	require.NoError(t, err)
	assert.True(t, moved)

	assert.Equal(t, []string{"C", "A", "B"}, visible(r))
	assert.Equal(t, Saving, r.State())
	for i, it := range r.Items() {
		assert.Equal(t, i+1, it.Rank())
	}

	close(release)
	require.NoError(t, flush(t, r))
	assert.Equal(t, Idle, r.State())
	assert.Equal(t, [][]domain.RankUpdate{{
		{ID: "C", Orden: 1},
		{ID: "A", Orden: 2},
		{ID: "B", Orden: 3},
	}}, srv.persistCalls())
}

func TestDropWithoutTargetIsNoop(t *testing.T) {
	srv := newServer("A", "B", "C")
	r := newReconciler(t, srv, 0, &notices{})

	require.NoError(t, r.DragStart("A"))
	assert.Equal(t, Dragging, r.State())

	moved, err := r.DragEnd("")
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, Idle, r.State())

	moved, err = r.Move("B", "B")
	require.NoError(t, err)
	assert.False(t, moved)

	require.NoError(t, flush(t, r))
	assert.Empty(t, srv.persistCalls())
	assert.Equal(t, []string{"A", "B", "C"}, visible(r))
}

func TestDropAtIndexClamps(t *testing.T) {
	srv := newServer("A", "B", "C", "D")
	r := newReconciler(t, srv, 0, &notices{})

	moved, err := r.MoveTo("A", 2)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, []string{"B", "C", "A", "D"}, visible(r))

	moved, err = r.MoveTo("B", 99)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, []string{"C", "A", "D", "B"}, visible(r))

	moved, err = r.MoveTo("C", -1)
	require.NoError(t, err)
	assert.False(t, moved)

	require.NoError(t, flush(t, r))
	calls := srv.persistCalls()
	require.NotEmpty(t, calls)
	assert.Equal(t, []domain.RankUpdate{
		{ID: "C", Orden: 1}, {ID: "A", Orden: 2}, {ID: "D", Orden: 3}, {ID: "B", Orden: 4},
	}, calls[len(calls)-1])
}

func TestDragValidation(t *testing.T) {
	srv := newServer("A", "B")
	r := newReconciler(t, srv, 0, &notices{})

	assert.True(t, domain.IsValidation(r.DragStart("Z")))

	_, err := r.DragEnd("A")
	assert.True(t, domain.IsValidation(err), "drop without a drag")

	require.NoError(t, r.DragStart("A"))
	_, err = r.DragEnd("Z")
	assert.True(t, domain.IsValidation(err))
	assert.Equal(t, Idle, r.State())
}

func TestFailedPersistRestoresServerOrder(t *testing.T) {
	srv := newServer("A", "B", "C")
	srv.persist = func(ctx context.Context, call int, updates []domain.RankUpdate) error {
		return domain.Persistence("persist order", errors.New("db down"))
	}
	n := &notices{}
	r := newReconciler(t, srv, 0, n)

	_, err := r.Move("C", "A")
	require.NoError(t, err)

	err = flush(t, r)
	assert.True(t, domain.IsPersistence(err))
	assert.Equal(t, []string{"A", "B", "C"}, visible(r))
	assert.Equal(t, Error, r.State())
	assert.Equal(t, 1, n.count())
	assert.Equal(t, int32(2), srv.fetches.Load(), "initial load plus one reload")

	// the error stays until the next drag starts
	assert.Equal(t, Error, r.State())
	require.NoError(t, r.DragStart("B"))
	assert.Equal(t, Dragging, r.State())
	assert.NoError(t, r.Err())
}

func TestFailedPersistKeepsDragInProgress(t *testing.T) {
	srv := newServer("A", "B", "C")
	release := make(chan struct{})
	srv.persist = func(ctx context.Context, call int, updates []domain.RankUpdate) error {
		if call == 0 {
			<-release
			return domain.Persistence("persist order", errors.New("db down"))
		}
		return nil
	}
	r := newReconciler(t, srv, 0, &notices{})

	_, err := r.Move("C", "A")
	require.NoError(t, err)
	require.NoError(t, r.DragStart("B"))

	close(release)
	err = flush(t, r)
	assert.True(t, domain.IsPersistence(err))
	assert.Equal(t, []string{"A", "B", "C"}, visible(r))
	assert.Equal(t, Dragging, r.State())

	moved, err := r.DragEnd("A")
	require.NoError(t, err)
	assert.True(t, moved)
	require.NoError(t, flush(t, r))
	assert.Equal(t, []string{"B", "A", "C"}, visible(r))
	assert.Equal(t, Idle, r.State())
}

func TestOverlappingPersistsKeepLatest(t *testing.T) {
	srv := newServer("A", "B", "C")
	firstStarted := make(chan context.Context, 1)
	releaseFirst := make(chan struct{})
	srv.persist = func(ctx context.Context, call int, updates []domain.RankUpdate) error {
		if call == 0 {
			firstStarted <- ctx
			<-releaseFirst
			return errors.New("first write lost the race")
		}
		return nil
	}
	n := &notices{}
	r := newReconciler(t, srv, 0, n)

	_, err := r.Move("C", "A")
	require.NoError(t, err)
	firstCtx := <-firstStarted

	_, err = r.Move("B", "C")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C", "A"}, visible(r))
	assert.Error(t, firstCtx.Err(), "older persist cancelled")

	require.NoError(t, flush(t, r))
	assert.Equal(t, Idle, r.State())

	close(releaseFirst)
	assert.Never(t, func() bool { return srv.fetches.Load() > 1 || n.count() > 0 },
		100*time.Millisecond, 10*time.Millisecond, "stale failure must not reload")
	assert.Equal(t, []string{"B", "C", "A"}, visible(r))
	assert.Equal(t, Idle, r.State())
	assert.NoError(t, r.Err())
}

func TestDebounceCoalescesMoves(t *testing.T) {
	srv := newServer("A", "B", "C", "D")
	r := newReconciler(t, srv, 50*time.Millisecond, &notices{})

	_, err := r.Move("D", "A")
	require.NoError(t, err)
	_, err = r.Move("C", "D")
	require.NoError(t, err)
	_, err = r.Move("B", "A")
	require.NoError(t, err)
	assert.Equal(t, Saving, r.State())

	require.Eventually(t, func() bool { return len(srv.persistCalls()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, flush(t, r))

	calls := srv.persistCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, visible(r), []string{calls[0][0].ID, calls[0][1].ID, calls[0][2].ID, calls[0][3].ID})
	assert.Equal(t, Idle, r.State())
}

func TestFlushFiresPendingDebounce(t *testing.T) {
	srv := newServer("A", "B")
	r := newReconciler(t, srv, time.Hour, &notices{})

	_, err := r.Move("B", "A")
	require.NoError(t, err)
	assert.Empty(t, srv.persistCalls())

	require.NoError(t, flush(t, r))
	assert.Len(t, srv.persistCalls(), 1)
}

func TestCloseDropsPendingWork(t *testing.T) {
	srv := newServer("A", "B")
	r := newReconciler(t, srv, time.Hour, &notices{})

	_, err := r.Move("B", "A")
	require.NoError(t, err)
	r.Close()

	require.NoError(t, flush(t, r))
	assert.Empty(t, srv.persistCalls())

	_, err = r.Move("A", "B")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, r.Load(context.Background()), ErrClosed)
}

func TestLoadFailure(t *testing.T) {
	r := New(Options[*domain.Item]{
		Fetch: func(ctx context.Context) ([]*domain.Item, error) {
			return nil, domain.Persistence("fetch", errors.New("timeout"))
		},
		Persist: func(ctx context.Context, updates []domain.RankUpdate) error { return nil },
		IDOf:    reorder.ItemID,
	})
	defer r.Close()

	err := r.Load(context.Background())
	assert.True(t, domain.IsPersistence(err))
	assert.Equal(t, Error, r.State())
	assert.Empty(t, r.Items())
}

func TestOnChangeReceivesSnapshots(t *testing.T) {
	srv := newServer("A", "B", "C")
	var (
		mu   sync.Mutex
		seen [][]string
	)
	r := New(Options[*domain.Item]{
		Fetch:   srv.Fetch,
		Persist: srv.Persist,
		IDOf:    reorder.ItemID,
		OnChange: func(items []*domain.Item) {
			ids := make([]string, len(items))
			for i, it := range items {
				ids[i] = it.ID
			}
			mu.Lock()
			seen = append(seen, ids)
			mu.Unlock()
		},
	})
	defer r.Close()

	require.NoError(t, r.Load(context.Background()))
	_, err := r.Move("A", "C")
	require.NoError(t, err)
	require.NoError(t, flush(t, r))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][]string{{"A", "B", "C"}, {"B", "C", "A"}}, seen)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "dragging", Dragging.String())
	assert.Equal(t, "saving", Saving.String())
	assert.Equal(t, "error", Error.String())
}
