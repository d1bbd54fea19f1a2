// Package worker is a fixed-size worker pool (a JobFunc driven by a
// tomb.Tomb) that runs arbitrary typed jobs: the settlement-bridge
// notification path submits through it so a slow upstream bounds the queue
// instead of growing goroutines without limit.
package worker

import (
	"github.com/rs/zerolog/log"
	"gopkg.in/tomb.v2"
)

const defaultQueueSize = 100

// JobFunc is the unit of work a pool runs; t is the pool's supervising tomb
// so a job can observe cancellation via t.Dying().
type JobFunc = func(t *tomb.Tomb, job any) error

// Pool is a fixed-size goroutine pool draining a shared job queue, started
// and stopped under a caller-owned tomb rather than outliving the process.
type Pool struct {
	size int
	jobs chan any
	work JobFunc
}

func NewPool(size int, queueSize int) Pool {
	if size <= 0 {
		size = 1
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return Pool{size: size, jobs: make(chan any, queueSize)}
}

// Submit enqueues a job; it blocks if the queue is full. Returns false if
// the pool's tomb is already dying and the job could not be enqueued.
func (p *Pool) Submit(t *tomb.Tomb, job any) bool {
	select {
	case p.jobs <- job:
		return true
	case <-t.Dying():
		return false
	}
}

// Run starts `size` workers under t, each pulling from the shared queue and
// invoking work until t dies.
func (p *Pool) Run(t *tomb.Tomb, work JobFunc) {
	p.work = work
	log.Info().Int("workers", p.size).Msg("worker pool starting")
	for i := 0; i < p.size; i++ {
		t.Go(p.loop(t))
	}
}

func (p *Pool) loop(t *tomb.Tomb) func() error {
	return func() error {
		for {
			select {
			case <-t.Dying():
				return nil
			case job := <-p.jobs:
				if err := p.work(t, job); err != nil {
					log.Error().Err(err).Msg("worker job failed")
				}
			}
		}
	}
}
