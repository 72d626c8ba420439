package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"git.sr.ht/~jakintosh/orden/internal/domain"
	"git.sr.ht/~jakintosh/orden/internal/metrics"
	"git.sr.ht/~jakintosh/orden/internal/reorder"
)

type Options[T any] struct {
	// Fetch returns the authoritative sequence, already sorted by rank.
	Fetch func(ctx context.Context) ([]T, error)
	// Persist stores one full set of rank updates.
	Persist func(ctx context.Context, updates []domain.RankUpdate) error
	IDOf    func(T) string
	// SetRank writes a new rank into an element. Optional.
	SetRank func(T, int)
	// Debounce delays persisting so a burst of moves becomes one write.
	Debounce time.Duration
	Notifier Notifier
	Logger   *slog.Logger
	// OnChange receives a copy of the visible sequence whenever it changes.
	OnChange func([]T)
}

// Reconciler owns the visible order of one collection.
//
// Every move that changes the order bumps a generation counter. Only the
// persist result of the current generation may change state; anything older
// is discarded. Starting a newer persist cancels the context of an older one
// still in flight.
type Reconciler[T any] struct {
	opts   Options[T]
	logger *slog.Logger

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	items  []T
	state  State
	dragID string
	err    error
	closed bool

	gen         uint64
	pending     []domain.RankUpdate
	pendingGen  uint64
	timer       *time.Timer
	timerArmed  bool
	inflightGen uint64
	stopFlight  context.CancelFunc
	settled     chan struct{}
}

func New[T any](opts Options[T]) *Reconciler[T] {
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Logger: opts.Logger}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Reconciler[T]{
		opts:   opts,
		logger: logger,
		base:   base,
		cancel: cancel,
	}
}

// Load replaces the visible sequence with a fresh fetch and drops any unsaved
// or in-flight work.
func (r *Reconciler[T]) Load(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.gen++
	gen := r.gen
	r.abandonLocked()
	r.mu.Unlock()

	items, err := r.opts.Fetch(ctx)

	r.mu.Lock()
	if gen != r.gen || r.closed {
		r.mu.Unlock()
		return domain.ErrSuperseded
	}
	if err != nil {
		r.state = Error
		r.err = err
		r.mu.Unlock()
		return err
	}
	r.items = items
	r.state = Idle
	r.err = nil
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.emit(snapshot)
	return nil
}

// Items returns a copy of the visible sequence.
func (r *Reconciler[T]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Reconciler[T]) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the failure that put the reconciler in the Error state.
func (r *Reconciler[T]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Generation is the counter of the latest order change.
func (r *Reconciler[T]) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

func (r *Reconciler[T]) DragStart(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if reorder.IndexOf(r.items, r.opts.IDOf, id) < 0 {
		return domain.Invalid("source", "elemento %q no esta en la lista", id)
	}
	r.dragID = id
	r.state = Dragging
	r.err = nil
	return nil
}

// DragEnd drops the dragged element onto targetID. An empty target or a drop
// onto itself changes nothing and reports false.
func (r *Reconciler[T]) DragEnd(targetID string) (bool, error) {
	return r.drop(func(items []T, sourceID string) ([]T, bool, error) {
		return reorder.MoveByID(items, r.opts.IDOf, sourceID, targetID)
	})
}

// DragEndAt drops the dragged element at newIndex of the visible sequence.
// Indexes past either end are clamped.
func (r *Reconciler[T]) DragEndAt(newIndex int) (bool, error) {
	return r.drop(func(items []T, sourceID string) ([]T, bool, error) {
		return reorder.MoveToIndex(items, r.opts.IDOf, sourceID, newIndex)
	})
}

func (r *Reconciler[T]) drop(move func(items []T, sourceID string) ([]T, bool, error)) (bool, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false, ErrClosed
	}
	if r.state != Dragging {
		r.mu.Unlock()
		return false, domain.Invalid("drag", "no hay ningun arrastre en curso")
	}

	sourceID := r.dragID
	r.dragID = ""
	moved, ok, err := move(r.items, sourceID)
	if err != nil || !ok {
		r.state = r.restingStateLocked()
		r.mu.Unlock()
		return false, err
	}

	r.items = moved
	updates := make([]domain.RankUpdate, len(moved))
	for i, it := range moved {
		orden := i + domain.RankBase
		if r.opts.SetRank != nil {
			r.opts.SetRank(it, orden)
		}
		updates[i] = domain.RankUpdate{ID: r.opts.IDOf(it), Orden: orden}
	}

	r.gen++
	r.pending = updates
	r.pendingGen = r.gen
	r.state = Saving
	r.err = nil
	if r.settled == nil {
		r.settled = make(chan struct{})
	}
	r.scheduleLocked()
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.emit(snapshot)
	return true, nil
}

// Move runs a full drag of sourceID onto targetID.
func (r *Reconciler[T]) Move(sourceID, targetID string) (bool, error) {
	if err := r.DragStart(sourceID); err != nil {
		return false, err
	}
	return r.DragEnd(targetID)
}

// MoveTo runs a full drag of sourceID to position newIndex.
func (r *Reconciler[T]) MoveTo(sourceID string, newIndex int) (bool, error) {
	if err := r.DragStart(sourceID); err != nil {
		return false, err
	}
	return r.DragEndAt(newIndex)
}

// Flush persists any debounced change now and waits until the latest
// generation has settled. It returns the error left by a failed persist.
func (r *Reconciler[T]) Flush(ctx context.Context) error {
	r.mu.Lock()
	if r.timerArmed {
		r.timer.Stop()
		r.timerArmed = false
		r.startPersistLocked()
	}
	ch := r.settled
	r.mu.Unlock()

	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close stops timers and cancels in-flight work. Pending changes that were
// not flushed are dropped.
func (r *Reconciler[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.abandonLocked()
	r.cancel()
}

func (r *Reconciler[T]) scheduleLocked() {
	if r.opts.Debounce <= 0 {
		r.startPersistLocked()
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	gen := r.pendingGen
	r.timerArmed = true
	r.timer = time.AfterFunc(r.opts.Debounce, func() { r.fire(gen) })
}

func (r *Reconciler[T]) fire(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.timerArmed || gen != r.pendingGen || r.closed {
		return
	}
	r.timerArmed = false
	r.startPersistLocked()
}

func (r *Reconciler[T]) startPersistLocked() {
	if r.stopFlight != nil {
		r.stopFlight()
	}
	ctx, cancel := context.WithCancel(r.base)
	r.stopFlight = cancel
	r.inflightGen = r.pendingGen

	go r.persist(ctx, r.pendingGen, r.pending)
}

func (r *Reconciler[T]) persist(ctx context.Context, gen uint64, updates []domain.RankUpdate) {
	err := r.opts.Persist(ctx, updates)

	r.mu.Lock()
	if gen != r.gen || r.closed {
		r.mu.Unlock()
		r.logger.Debug("discarding stale persist result", "generation", gen, "err", err)
		return
	}
	r.inflightGen = 0
	r.stopFlight = nil

	if err == nil {
		r.state = r.restingStateLocked()
		r.closeSettledLocked()
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.logger.Warn("persist failed, reloading", "generation", gen, "err", err)
	r.opts.Notifier.Notice(NoticeError, msgOrderReverted)
	metrics.ReconcilerRefetches.Inc()

	items, fetchErr := r.opts.Fetch(r.base)

	r.mu.Lock()
	if gen != r.gen || r.closed {
		// a newer move happened while reloading; it owns the state now
		r.mu.Unlock()
		return
	}
	if fetchErr != nil {
		r.logger.Error("reload after failed persist", "err", fetchErr)
		err = errors.Join(err, fetchErr)
	} else {
		r.items = items
	}
	r.state = Error
	r.err = err
	// a drag started meanwhile survives if its element is still listed
	if r.dragID != "" {
		if reorder.IndexOf(r.items, r.opts.IDOf, r.dragID) >= 0 {
			r.state = Dragging
		} else {
			r.dragID = ""
		}
	}
	r.closeSettledLocked()
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if fetchErr == nil {
		r.emit(snapshot)
	}
}

// abandonLocked drops unsaved and in-flight work.
func (r *Reconciler[T]) abandonLocked() {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timerArmed = false
	r.pending = nil
	r.inflightGen = 0
	if r.stopFlight != nil {
		r.stopFlight()
		r.stopFlight = nil
	}
	r.closeSettledLocked()
}

func (r *Reconciler[T]) restingStateLocked() State {
	switch {
	case r.dragID != "":
		return Dragging
	case r.timerArmed || r.inflightGen != 0:
		return Saving
	default:
		return Idle
	}
}

func (r *Reconciler[T]) closeSettledLocked() {
	if r.settled != nil {
		close(r.settled)
		r.settled = nil
	}
}

func (r *Reconciler[T]) snapshotLocked() []T {
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

func (r *Reconciler[T]) emit(items []T) {
	if r.opts.OnChange != nil {
		r.opts.OnChange(items)
	}
}
