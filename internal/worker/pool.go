// Package worker executes queued units of work with a bounded pool.
package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/audit-service/internal/entity"
	"github.com/user/audit-service/internal/repository"
	"github.com/user/audit-service/internal/usecase"
	"github.com/user/audit-service/pkg/metrics"
)

const (
	defaultPollInterval  = 500 * time.Millisecond
	defaultRetryBackoff  = 5 * time.Second
	maxRetryBackoff      = 10 * time.Minute
	jitterFactor         = 0.2 // +/- 20%
	queueGaugeInterval   = 5 * time.Second
	errorBackoffInterval = 2 * time.Second
)

// Handler runs one unit of work.
type Handler interface {
	HandleTask(ctx context.Context, task entity.Task) error
}

// Options configures a Pool.
type Options struct {
	Workers      int
	TaskTimeout  time.Duration
	MaxAttempts  int
	PollInterval time.Duration
	// RetryBackoff is the delay before the first retry; it doubles per attempt.
	RetryBackoff time.Duration
}

// Pool polls the task queue with a fixed number of workers. Failed tasks
// are re-queued with exponential backoff until MaxAttempts, then moved to
// the dead-letter store.
type Pool struct {
	handler Handler
	queue   repository.TaskQueue
	failed  repository.FailedTaskRepository
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

// NewPool creates a new worker pool.
func NewPool(handler Handler, queue repository.TaskQueue, failed repository.FailedTaskRepository, opts Options, logger *zap.Logger) *Pool {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	return &Pool{
		handler: handler,
		queue:   queue,
		failed:  failed,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

// Run blocks until ctx is cancelled. Tasks already started are allowed to
// finish within their own timeout.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool started", zap.Int("workers", p.opts.Workers))
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.opts.Workers; i++ {
		id := i
		g.Go(func() error {
			p.work(gctx, id)
			return nil
		})
	}
	g.Go(func() error {
		p.reportQueueSize(gctx)
		return nil
	})
	err := g.Wait()
	p.logger.Info("worker pool stopped")
	return err
}

func (p *Pool) work(ctx context.Context, id int) {
	log := p.logger.With(zap.Int("worker", id))
	for {
		if ctx.Err() != nil {
			return
		}
		task, err := p.queue.Dequeue(ctx)
		switch {
		case errors.Is(err, repository.ErrQueueEmpty):
			sleep(ctx, p.opts.PollInterval)
		case err != nil:
			if ctx.Err() == nil {
				log.Error("failed to dequeue task", zap.Error(err))
			}
			sleep(ctx, errorBackoffInterval)
		default:
			p.process(context.WithoutCancel(ctx), task)
		}
	}
}

// process runs one task and settles its outcome.
func (p *Pool) process(ctx context.Context, task entity.Task) {
	log := p.logger.With(
		zap.String("task_id", task.ID),
		zap.String("kind", string(task.Kind)),
		zap.Int("attempt", task.Attempt))

	tctx, cancel := context.WithTimeout(ctx, p.opts.TaskTimeout)
	start := time.Now()
	err := p.handler.HandleTask(tctx, task)
	cancel()
	metrics.TaskDuration.WithLabelValues(string(task.Kind)).Observe(time.Since(start).Seconds())
	if cerr := p.queue.Complete(ctx, task); cerr != nil {
		log.Error("failed to complete task", zap.Error(cerr))
	}

	switch {
	case err == nil:
		metrics.TasksTotal.WithLabelValues(string(task.Kind), "success").Inc()
	case errors.Is(err, usecase.ErrInvalidTask):
		metrics.TasksTotal.WithLabelValues(string(task.Kind), "dropped").Inc()
		log.Warn("dropping invalid task", zap.Error(err))
	default:
		p.retry(ctx, log, task, err)
	}
}

func (p *Pool) retry(ctx context.Context, log *zap.Logger, task entity.Task, taskErr error) {
	attempts := task.Attempt + 1
	if attempts >= p.opts.MaxAttempts {
		metrics.TasksTotal.WithLabelValues(string(task.Kind), "dead_letter").Inc()
		log.Error("task failed permanently", zap.Error(taskErr))
		failed := &entity.FailedTask{
			TaskID:        task.ID,
			Kind:          task.Kind,
			Payload:       task.Payload,
			FailureReason: taskErr.Error(),
			Attempts:      attempts,
			FailedAt:      p.now().UTC(),
		}
		if err := p.failed.SaveOrUpdate(ctx, failed); err != nil {
			log.Error("failed to store failed task", zap.Error(err))
		}
		return
	}

	delay := p.backoff(attempts)
	task.Attempt = attempts
	task.NotBefore = p.now().Add(delay)
	metrics.TasksTotal.WithLabelValues(string(task.Kind), "retry").Inc()
	log.Warn("task failed, retrying", zap.Error(taskErr), zap.Duration("delay", delay))
	if _, err := p.queue.Enqueue(ctx, task); err != nil {
		log.Error("failed to requeue task", zap.Error(err))
	}
}

// backoff returns RetryBackoff doubled per previous attempt, with jitter.
func (p *Pool) backoff(attempts int) time.Duration {
	d := p.opts.RetryBackoff
	for i := 1; i < attempts && d < maxRetryBackoff; i++ {
		d *= 2
	}
	if d > maxRetryBackoff {
		d = maxRetryBackoff
	}
	jitter := (rand.Float64()*2 - 1) * jitterFactor
	return time.Duration(float64(d) * (1 + jitter))
}

func (p *Pool) reportQueueSize(ctx context.Context) {
	ticker := time.NewTicker(queueGaugeInterval)
	defer ticker.Stop()
	for {
		if size, err := p.queue.Size(ctx); err == nil {
			metrics.TasksInQueue.Set(float64(size))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
