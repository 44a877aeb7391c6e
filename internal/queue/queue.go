// Package queue serializes outbound controller requests.
//
// Embedded controllers answer one HTTP request at a time and fall over when
// several arrive together, so every request to a controller goes through a
// Queue: strict FIFO, a single task in flight, and a fixed cooldown between
// the end of one task and the start of the next.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrClosed is returned for tasks that were pending when the queue stopped
// and for tasks submitted after it stopped.
var ErrClosed = errors.New("request queue closed")

// DefaultCooldown is the pause between two consecutive tasks.
const DefaultCooldown = 50 * time.Millisecond

type outcome struct {
	value any
	err   error
}

// envelope is one queued unit of work paired with the channel its caller waits on.
type envelope struct {
	ctx  context.Context
	run  func(ctx context.Context) (any, error)
	done chan outcome
}

// Queue is a FIFO, single-in-flight task queue.
type Queue struct {
	cooldown time.Duration

	mu      sync.Mutex
	pending []*envelope
	closed  bool

	// wake is signalled whenever an envelope is appended
	wake chan struct{}
}

// New creates a queue. A zero cooldown uses DefaultCooldown; a negative one disables it.
func New(cooldown time.Duration) *Queue {
	if cooldown == 0 {
		cooldown = DefaultCooldown
	}
	if cooldown < 0 {
		cooldown = 0
	}
	return &Queue{
		cooldown: cooldown,
		wake:     make(chan struct{}, 1),
	}
}

// Len returns the number of tasks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Run drains the queue until ctx is cancelled. Tasks still pending at that
// point fail with ErrClosed.
func (q *Queue) Run(ctx context.Context) error {
	log.Debug().Dur("cooldown", q.cooldown).Msg("Request queue started")

	for {
		if ctx.Err() != nil {
			q.close()
			return nil
		}

		env := q.pop()
		if env == nil {
			select {
			case <-ctx.Done():
				q.close()
				return nil
			case <-q.wake:
				continue
			}
		}

		if !q.execute(env) || q.cooldown == 0 {
			continue
		}

		timer := time.NewTimer(q.cooldown)
		select {
		case <-ctx.Done():
			timer.Stop()
			q.close()
			return nil
		case <-timer.C:
		}
	}
}

// Do appends task to the queue and blocks until that task has run, returning
// its result. If ctx ends first, Do returns ctx.Err() and the task is skipped
// when it reaches the head of the queue.
func Do[T any](ctx context.Context, q *Queue, task func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	env := &envelope{
		ctx: ctx,
		run: func(ctx context.Context) (any, error) {
			return task(ctx)
		},
		done: make(chan outcome, 1),
	}
	if err := q.push(env); err != nil {
		return zero, err
	}

	select {
	case out := <-env.done:
		if out.err != nil {
			return zero, out.err
		}
		value, _ := out.value.(T)
		return value, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (q *Queue) push(env *envelope) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.pending = append(q.pending, env)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *Queue) pop() *envelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	env := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return env
}

// execute runs one envelope and reports whether the task actually ran.
func (q *Queue) execute(env *envelope) (ran bool) {
	if err := env.ctx.Err(); err != nil {
		env.done <- outcome{err: err}
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Queued request panicked")
			env.done <- outcome{err: fmt.Errorf("queued request panicked: %v", r)}
			ran = true
		}
	}()

	value, err := env.run(env.ctx)
	env.done <- outcome{value: value, err: err}
	return true
}

func (q *Queue) close() {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.closed = true
	q.mu.Unlock()

	for _, env := range pending {
		env.done <- outcome{err: ErrClosed}
	}
	if len(pending) > 0 {
		log.Debug().Int("dropped", len(pending)).Msg("Request queue closed with pending requests")
	}
}
