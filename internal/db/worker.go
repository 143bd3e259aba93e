package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
)

type TxFn func(ctx context.Context, tx *sql.Tx) error

type job struct {
	ctx context.Context
	fn  TxFn
	ch  chan error
}

// Worker owns every write. Jobs run one at a time, each in its own
// transaction, so read-modify-write sequences such as a frame commit are
// atomic with respect to each other.
type Worker struct {
	db      *sql.DB
	jobs    chan job
	done    chan struct{}
	pending atomic.Int64
}

func NewWorker(db *sql.DB) *Worker {
	w := &Worker{
		db:   db,
		jobs: make(chan job, 256),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) Close() {
	close(w.jobs)
	<-w.done
}

// Pending is the number of jobs queued or running.
func (w *Worker) Pending() int64 { return w.pending.Load() }

func (w *Worker) Do(ctx context.Context, fn TxFn) error {
	ch := make(chan error, 1)
	j := job{ctx: ctx, fn: fn, ch: ch}

	w.pending.Add(1)
	select {
	case w.jobs <- j:
	case <-ctx.Done():
		w.pending.Add(-1)
		return ctx.Err()
	}

	// If the caller gives up, the job still finishes; its result lands in
	// the buffered channel and is dropped.
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer close(w.done)

	for j := range w.jobs {
		err := w.run(j)
		w.pending.Add(-1)
		j.ch <- err
	}
}

func (w *Worker) run(j job) (err error) {
	tx, err := w.db.BeginTx(j.ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("tx job panic: %v", r)
		}
	}()

	if err := j.fn(j.ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
