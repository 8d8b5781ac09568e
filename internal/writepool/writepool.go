// Package writepool implements the bounded worker pool that applies
// decoded cluster placements to their device's SparseWriter concurrently,
// while keeping memory bounded by a fixed-size job queue.
package writepool

import (
	"runtime"
	"sync"

	"github.com/bgrewell/vma-kit/internal/logging"
)

// Options configures a Pool. The zero value is not meant to be
// constructed directly; use New with Option functions.
type Options struct {
	WorkerCount     int
	QueueMultiplier int
	Logger          *logging.Logger
}

// Option modifies Options.
type Option func(*Options)

// WithWorkerCount sets the number of concurrent workers applying
// placements. Values below 1 are ignored.
func WithWorkerCount(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.WorkerCount = n
		}
	}
}

// WithQueueMultiplier sets the job queue's capacity as a multiple of the
// worker count. Values below 1 are ignored.
func WithQueueMultiplier(m int) Option {
	return func(o *Options) {
		if m > 0 {
			o.QueueMultiplier = m
		}
	}
}

// WithLogger attaches a Logger for diagnostic output.
func WithLogger(log *logging.Logger) Option {
	return func(o *Options) {
		o.Logger = log
	}
}

// Pool runs submitted jobs (placements applied to a SparseWriter) across a
// fixed number of workers reading from a bounded queue. Submit blocks
// once the queue is full, which is how the extractor's stream reader is
// throttled to match write throughput without unbounded buffering.
type Pool struct {
	jobs chan func() error
	wg   sync.WaitGroup

	mu  sync.Mutex
	err error

	log *logging.Logger
}

// New starts a Pool with workerCount workers (default runtime.NumCPU(),
// minimum 2) and a queue sized workerCount*queueMultiplier (default 4).
func New(opts ...Option) *Pool {
	o := Options{
		WorkerCount:     runtime.NumCPU(),
		QueueMultiplier: 4,
	}
	if o.WorkerCount < 2 {
		o.WorkerCount = 2
	}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.Logger
	if log == nil {
		log = logging.DefaultLogger()
	}

	p := &Pool{
		jobs: make(chan func() error, o.WorkerCount*o.QueueMultiplier),
		log:  log,
	}

	p.wg.Add(o.WorkerCount)
	for i := 0; i < o.WorkerCount; i++ {
		go p.worker()
	}
	log.Debug("write pool started", "workers", o.WorkerCount, "queueCapacity", cap(p.jobs))
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		if err := job(); err != nil {
			p.recordError(err)
		}
	}
}

func (p *Pool) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = err
		p.log.Error(err, "write pool job failed")
	}
}

// Err returns the first error recorded by any job, or nil. Callers
// typically check this between Submit calls to stop feeding new work
// once the pool has gone fatal, letting in-flight jobs drain instead of
// aborting them mid-write.
func (p *Pool) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Submit enqueues job, blocking if the queue is full. It does not refuse
// to enqueue once Err() is non-nil; callers that want to stop producing
// work early should check Err() themselves between submissions.
func (p *Pool) Submit(job func() error) {
	p.jobs <- job
}

// Close stops accepting new work, waits for every queued and in-flight
// job to finish, and returns the first error encountered, if any.
func (p *Pool) Close() error {
	close(p.jobs)
	p.wg.Wait()
	return p.Err()
}
