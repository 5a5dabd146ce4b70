package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrQueueFull = errors.New("worker queue is full")
	ErrStopped   = errors.New("dispatcher stopped")
)

type Job func(ctx context.Context)

type worker struct {
	jobs chan Job
}

// Dispatcher runs jobs sharing a key one at a time in submission order, on a
// goroutine owned by that key. Different keys never wait on each other.
type Dispatcher struct {
	mu          sync.Mutex
	log         *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	workers     map[string]*worker
	queueSize   int
	idleTimeout time.Duration
	stopped     bool
}

func New(ctx context.Context, log *slog.Logger, queueSize int, idleTimeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 16
	}
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Dispatcher{
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
		workers:     make(map[string]*worker),
		queueSize:   queueSize,
		idleTimeout: idleTimeout,
	}
}

// Submit queues job behind every job previously submitted with the same key.
func (d *Dispatcher) Submit(key string, job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrStopped
	}
	w, ok := d.workers[key]
	if !ok {
		w = &worker{jobs: make(chan Job, d.queueSize)}
		d.workers[key] = w
		d.wg.Add(1)
		go d.loop(key, w)
	}

	select {
	case w.jobs <- job:
		return nil
	default:
		d.log.Warn("Worker queue full, dropping job", "key", key, "capacity", d.queueSize)
		return ErrQueueFull
	}
}

// Go runs job immediately on its own goroutine, outside any key ordering.
func (d *Dispatcher) Go(job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrStopped
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run("", job)
	}()
	return nil
}

// Active reports how many keyed workers are alive.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

// Stop cancels running jobs, drops queued ones and waits for every goroutine.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) loop(key string, w *worker) {
	defer d.wg.Done()

	idle := time.NewTimer(d.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-d.ctx.Done():
			d.remove(key, w)
			return
		case job := <-w.jobs:
			d.run(key, job)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(d.idleTimeout)
		case <-idle.C:
			// Submit enqueues under d.mu, so an empty queue seen under d.mu
			// cannot gain a job for this worker once it is unmapped.
			d.mu.Lock()
			if len(w.jobs) == 0 {
				delete(d.workers, key)
				d.mu.Unlock()
				d.log.Debug("Worker idle, exiting", "key", key)
				return
			}
			d.mu.Unlock()
			idle.Reset(d.idleTimeout)
		}
	}
}

func (d *Dispatcher) remove(key string, w *worker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.workers[key] == w {
		delete(d.workers, key)
	}
}

func (d *Dispatcher) run(key string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Job panicked", "key", key, "panic", r)
		}
	}()
	job(d.ctx)
}
