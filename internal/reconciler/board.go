package reconciler

import (
	"context"
	"log/slog"
	"sync"

	"git.sr.ht/~jakintosh/orden/internal/domain"
	"git.sr.ht/~jakintosh/orden/internal/metrics"
)

type BoardOptions struct {
	Fetch    func(ctx context.Context) (*domain.Board, error)
	MoveLead func(ctx context.Context, leadID, etapaID string) error
	Notifier Notifier
	Logger   *slog.Logger
	OnChange func(*domain.Board)
}

// BoardReconciler is the Kanban variant: a card dropped on another column is
// shown at the head of that column at once and the stage change is persisted
// in the background.
//
// Moves of different cards are independent writes. Moves of the same card are
// written one after another, and a queued move that a newer one superseded is
// never sent, so the last drop is the last write. If any move fails, the board
// is fetched again once every move still in flight has finished.
type BoardReconciler struct {
	opts   BoardOptions
	logger *slog.Logger

	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	board    *domain.Board
	state    State
	err      error
	closed   bool
	gen      uint64
	inflight int
	failed   error
	settled  chan struct{}
	// latest move per lead, cleared once it settles
	moves map[string]*leadMove
}

type leadMove struct {
	done chan struct{}
}

func NewBoard(opts BoardOptions) *BoardReconciler {
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Logger: opts.Logger}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &BoardReconciler{
		opts:   opts,
		logger: logger,
		base:   base,
		cancel: cancel,
		board:  &domain.Board{},
		moves:  make(map[string]*leadMove),
	}
}

func (r *BoardReconciler) Load(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.gen++
	gen := r.gen
	r.mu.Unlock()

	board, err := r.opts.Fetch(ctx)

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
	r.board = board
	if r.inflight == 0 {
		r.state = Idle
	}
	r.err = nil
	snapshot := r.board.Clone()
	r.mu.Unlock()

	r.emit(snapshot)
	return nil
}

// Board returns a copy of the visible board.
func (r *BoardReconciler) Board() *domain.Board {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.board.Clone()
}

func (r *BoardReconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *BoardReconciler) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// MoveCard moves leadID to the head of the etapaID column. Dropping a card on
// its own column changes nothing and reports false.
func (r *BoardReconciler) MoveCard(leadID, etapaID string) (bool, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false, ErrClosed
	}

	lead, from := r.board.FindLead(leadID)
	if lead == nil {
		r.mu.Unlock()
		return false, domain.Invalid("lead", "lead %q no esta en el tablero", leadID)
	}
	target := r.board.Column(etapaID)
	if target == nil {
		r.mu.Unlock()
		return false, domain.Invalid("etapa", "etapa %q no esta en el tablero", etapaID)
	}
	if r.board.Columns[from].Etapa.ID == etapaID {
		r.mu.Unlock()
		return false, nil
	}

	source := &r.board.Columns[from]
	kept := make([]*domain.Lead, 0, len(source.Leads)-1)
	for _, l := range source.Leads {
		if l.ID != leadID {
			kept = append(kept, l)
		}
	}
	source.Leads = kept

	moved := lead.Clone()
	moved.EtapaID = etapaID
	target.Leads = append([]*domain.Lead{moved}, target.Leads...)

	r.gen++
	r.inflight++
	r.state = Saving
	r.err = nil
	if r.settled == nil {
		r.settled = make(chan struct{})
	}
	prev := r.moves[leadID]
	mv := &leadMove{done: make(chan struct{})}
	r.moves[leadID] = mv
	snapshot := r.board.Clone()
	r.mu.Unlock()

	r.emit(snapshot)
	go r.persist(prev, mv, leadID, etapaID)
	return true, nil
}

// superseded reports whether a newer move of leadID was started after mv.
func (r *BoardReconciler) superseded(leadID string, mv *leadMove) bool {
	return r.moves[leadID] != mv
}

func (r *BoardReconciler) persist(prev, mv *leadMove, leadID, etapaID string) {
	defer close(mv.done)

	if prev != nil {
		select {
		case <-prev.done:
		case <-r.base.Done():
		}
	}

	r.mu.Lock()
	skip := r.closed || r.superseded(leadID, mv)
	r.mu.Unlock()

	var err error
	if !skip {
		err = r.opts.MoveLead(r.base, leadID, etapaID)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.inflight--
	stale := r.superseded(leadID, mv)
	if !stale {
		delete(r.moves, leadID)
	}
	switch {
	case skip:
		r.logger.Debug("move lead skipped", "lead", leadID, "etapa", etapaID)
	case stale && err != nil:
		// the newer move of this lead is written afterwards and decides where it ends up
		r.logger.Debug("superseded move lead failed", "lead", leadID, "etapa", etapaID, "err", err)
	case err != nil:
		r.logger.Warn("move lead failed", "lead", leadID, "etapa", etapaID, "err", err)
		if r.failed == nil {
			r.failed = err
		}
	}
	if r.inflight > 0 {
		r.mu.Unlock()
		return
	}

	failed := r.failed
	r.failed = nil
	if failed == nil {
		r.state = Idle
		r.closeSettledLocked()
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.opts.Notifier.Notice(NoticeError, msgMoveReverted)
	metrics.ReconcilerRefetches.Inc()
	r.reload(failed)
}

// reload fetches the board after a failed move. A move started meanwhile
// either takes the reload over or, when it already settled, forces another
// fetch so its result is included.
func (r *BoardReconciler) reload(failed error) {
	for {
		r.mu.Lock()
		gen := r.gen
		r.mu.Unlock()

		board, fetchErr := r.opts.Fetch(r.base)

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		if gen != r.gen {
			if r.inflight > 0 {
				if r.failed == nil {
					r.failed = failed
				}
				r.mu.Unlock()
				return
			}
			r.mu.Unlock()
			continue
		}
		if fetchErr != nil {
			r.logger.Error("reload board after failed move", "err", fetchErr)
		} else {
			r.board = board
		}
		r.state = Error
		r.err = failed
		r.closeSettledLocked()
		snapshot := r.board.Clone()
		r.mu.Unlock()

		if fetchErr == nil {
			r.emit(snapshot)
		}
		return
	}
}

// Flush waits until every move in flight has settled and returns the error
// of a failed one.
func (r *BoardReconciler) Flush(ctx context.Context) error {
	r.mu.Lock()
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
	if r.state == Error {
		return r.err
	}
	return nil
}

func (r *BoardReconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.cancel()
	r.closeSettledLocked()
}

func (r *BoardReconciler) closeSettledLocked() {
	if r.settled != nil {
		close(r.settled)
		r.settled = nil
	}
}

func (r *BoardReconciler) emit(board *domain.Board) {
	if r.opts.OnChange != nil {
		r.opts.OnChange(board)
	}
}
