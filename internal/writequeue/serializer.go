// Package writequeue runs every database mutation on a single worker so that
// no two transactions ever compete for the SQLite write lock.
package writequeue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feed-archiver/internal/metrics"
)

// ErrClosed is returned for units submitted after Close.
var ErrClosed = errors.New("write queue closed")

// Mutation is one unit of work executed inside its own transaction.
// Returning an error rolls the transaction back.
type Mutation func(ctx context.Context, tx *sql.Tx) error

// TxBeginner is satisfied by *sql.DB.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

type unit struct {
	name   string
	fn     Mutation
	result chan error
}

// Serializer executes submitted mutations one at a time in submission order.
// The queue is unbounded; Submit never blocks.
type Serializer struct {
	db      TxBeginner
	logger  *zap.Logger
	baseCtx context.Context

	mu      sync.Mutex
	pending []unit
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// New starts the worker goroutine. Units run with a context derived from
// context.Background so that a caller giving up does not abort a queued write.
func New(db TxBeginner, logger *zap.Logger) *Serializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Serializer{
		db:      db,
		logger:  logger,
		baseCtx: context.Background(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Submit enqueues fn and returns a channel that receives its outcome exactly once.
func (s *Serializer) Submit(name string, fn Mutation) <-chan error {
	result := make(chan error, 1)
	if fn == nil {
		result <- errors.New("nil mutation")
		return result
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		result <- ErrClosed
		return result
	}
	s.pending = append(s.pending, unit{name: name, fn: fn, result: result})
	depth := len(s.pending)
	s.mu.Unlock()

	metrics.SetWriteQueueDepth(depth)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return result
}

// Do submits fn and waits for it. If ctx ends first the unit still runs; only
// the wait is abandoned.
func (s *Serializer) Do(ctx context.Context, name string, fn Mutation) error {
	select {
	case err := <-s.Submit(name, fn):
		return err
	case <-ctx.Done():
		return fmt.Errorf("wait for %s: %w", name, ctx.Err())
	}
}

// Pending reports how many units are waiting to run.
func (s *Serializer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close stops accepting units, drains the queue and waits for the worker.
// It is safe to call multiple times.
func (s *Serializer) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	s.mu.Unlock()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("write queue close wait: %w", ctx.Err())
	}
}

func (s *Serializer) run() {
	defer close(s.done)
	for {
		next, ok, closed := s.next()
		if ok {
			next.result <- s.execute(next)
			continue
		}
		if closed {
			return
		}
		<-s.wake
	}
}

func (s *Serializer) next() (unit, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return unit{}, false, s.closed
	}
	next := s.pending[0]
	s.pending[0] = unit{}
	s.pending = s.pending[1:]
	metrics.SetWriteQueueDepth(len(s.pending))
	return next, true, s.closed
}

func (s *Serializer) execute(u unit) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveWriteUnit(u.name, err, time.Since(start))
		if err != nil {
			s.logger.Error("write unit failed", zap.String("unit", u.name), zap.Error(err))
		}
	}()

	tx, err := s.db.BeginTx(s.baseCtx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin transaction: %w", u.name, err)
	}
	defer func() {
		if rec := recover(); rec != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("%s: panic: %v", u.name, rec)
		}
	}()

	if err := u.fn(s.baseCtx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", zap.String("unit", u.name), zap.Error(rbErr))
		}
		return fmt.Errorf("%s: %w", u.name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", u.name, err)
	}
	return nil
}
