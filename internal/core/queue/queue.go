// Package queue hands job ids from request handlers to background workers.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("queue closed")

// Handler processes one job id. Its error is logged; the job record carries
// the durable outcome.
type Handler func(ctx context.Context, jobID string) error

// Queue is a non-blocking handoff of job ids to a pool of workers.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	// Start launches workers that call h until ctx is cancelled. It does not block.
	Start(ctx context.Context, workers int, h Handler) error
	Close() error
}

// ChannelQueue is an in-process queue backed by a buffered channel.
type ChannelQueue struct {
	jobs chan string

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewChannelQueue returns a queue that buffers up to size ids (64 when size < 1).
func NewChannelQueue(size int) *ChannelQueue {
	if size < 1 {
		size = 64
	}
	return &ChannelQueue{jobs: make(chan string, size)}
}

// Enqueue blocks while the buffer is full, until ctx is done.
func (q *ChannelQueue) Enqueue(ctx context.Context, jobID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *ChannelQueue) Start(ctx context.Context, workers int, h Handler) error {
	if workers < 1 {
		workers = 1
	}
	for w := 1; w <= workers; w++ {
		q.wg.Add(1)
		go func(w int) {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					log.Debug().Int("worker", w).Msg("queue worker shutting down")
					return
				case jobID, ok := <-q.jobs:
					if !ok {
						return
					}
					log.Debug().Int("worker", w).Str("job_id", jobID).Msg("job picked up")
					if err := h(ctx, jobID); err != nil {
						log.Error().Err(err).Int("worker", w).Str("job_id", jobID).Msg("job handler failed")
					}
				}
			}
		}(w)
	}
	return nil
}

// Close stops accepting ids and waits for running handlers to return.
func (q *ChannelQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}
