// Package batch runs many raw transactions through a fixed number of workers.
package batch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/WhileEndless/go-desync/pkg/constants"
	"github.com/WhileEndless/go-desync/pkg/engine"
	"github.com/WhileEndless/go-desync/pkg/errors"
	"github.com/WhileEndless/go-desync/pkg/logging"
	"github.com/WhileEndless/go-desync/pkg/metrics"
)

// Sender runs one transaction. *engine.Engine satisfies it.
type Sender interface {
	SendTarget(ctx context.Context, target engine.Target, raw string) engine.Result
	SendURL(ctx context.Context, rawURL, raw string) engine.Result
}

// Job is one request to send. When URL is set it decides host, port and
// scheme; otherwise Target is used.
type Job struct {
	Name    string
	URL     string
	Target  engine.Target
	Request string
}

// Result pairs a job with its transaction result. Index is the job's
// position in the submitted slice.
type Result struct {
	Index int
	Job   Job
	engine.Result
}

// Options configures a Runner.
type Options struct {
	Workers int
	// RPS caps transaction starts per second across all workers. Zero
	// disables the limiter.
	RPS   float64
	Burst int

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Runner executes jobs with at most Workers transactions in flight.
type Runner struct {
	sender  Sender
	workers int
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger

	queued atomic.Int64
	active atomic.Int32
	peak   atomic.Int32
}

// New creates a Runner.
func New(sender Sender, opts Options) *Runner {
	workers := opts.Workers
	if workers <= 0 {
		workers = constants.DefaultBatchWorkers
	}

	var limiter *rate.Limiter
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}

	return &Runner{
		sender:  sender,
		workers: workers,
		limiter: limiter,
		metrics: opts.Metrics,
		logger:  logging.OrDefault(opts.Logger),
	}
}

// Workers returns the worker bound.
func (r *Runner) Workers() int {
	return r.workers
}

// Active returns the number of transactions currently running.
func (r *Runner) Active() int {
	return int(r.active.Load())
}

// Queued returns the number of jobs waiting for a worker.
func (r *Runner) Queued() int {
	return int(r.queued.Load())
}

// Peak returns the highest number of transactions seen in flight at once.
func (r *Runner) Peak() int {
	return int(r.peak.Load())
}

// Run starts the jobs and returns a channel that receives exactly one
// Result per job, in completion order, and is closed when all are done.
// Jobs still queued when ctx is done are reported with the context error
// without being sent.
func (r *Runner) Run(ctx context.Context, jobs []Job) <-chan Result {
	out := make(chan Result, len(jobs))
	if len(jobs) == 0 {
		close(out)
		return out
	}

	batchID := uuid.NewString()
	workers := min(r.workers, len(jobs))
	r.logger.Info("batch started", "batch_id", batchID, "jobs", len(jobs), "workers", workers)

	queue := make(chan int, len(jobs))
	for i := range jobs {
		queue <- i
	}
	close(queue)
	r.setQueued(r.queued.Add(int64(len(jobs))))

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range queue {
				r.setQueued(r.queued.Add(-1))
				out <- r.runOne(ctx, i, jobs[i])
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
		r.logger.Info("batch finished", "batch_id", batchID, "peak_in_flight", r.Peak())
	}()
	return out
}

// RunAll runs the jobs and returns the results ordered by job index.
func (r *Runner) RunAll(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	for res := range r.Run(ctx, jobs) {
		results[res.Index] = res
	}
	return results
}

func (r *Runner) runOne(ctx context.Context, index int, job Job) Result {
	res := Result{Index: index, Job: job}

	if err := ctx.Err(); err != nil {
		res.Result = engine.Result{ID: uuid.NewString(), Target: job.Target, Err: errors.NewIOError("batch job", err)}
		return res
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			res.Result = engine.Result{ID: uuid.NewString(), Target: job.Target, Err: errors.NewIOError("rate limit wait", err)}
			return res
		}
	}

	r.enter()
	defer r.active.Add(-1)

	if job.URL != "" {
		res.Result = r.sender.SendURL(ctx, job.URL, job.Request)
	} else {
		res.Result = r.sender.SendTarget(ctx, job.Target, job.Request)
	}
	r.logger.Debug("batch job done", "index", index, "name", job.Name, "outcome", res.Outcome())
	return res
}

// enter counts a transaction in and raises the peak if needed.
func (r *Runner) enter() {
	n := r.active.Add(1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (r *Runner) setQueued(n int64) {
	r.metrics.SetQueued(int(n))
}
