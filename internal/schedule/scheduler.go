package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type Scheduler interface {
	AddJob(job Job, spec string, opts ...JobOption) error
	RunNow(name string) error
	Start(ctx context.Context)
	Stop()
}

type jobConfig struct {
	timeout time.Duration
}

type JobOption func(c *jobConfig)

// WithTimeout bounds a single run of the job.
func WithTimeout(d time.Duration) JobOption {
	return func(c *jobConfig) {
		c.timeout = d
	}
}

// ErrJobRunning is returned by RunNow when the job is already executing.
var ErrJobRunning = errors.New("job is still running")

type entry struct {
	id  cron.EntryID
	run func() error
}

type CronScheduler struct {
	cron *cron.Cron

	mu      sync.RWMutex
	entries map[string]entry
	ctx     context.Context
}

func NewCronScheduler() *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &CronScheduler{
		cron:    cron.New(cron.WithParser(parser)),
		entries: make(map[string]entry),
		ctx:     context.Background(),
	}
}

func (c *CronScheduler) AddJob(job Job, spec string, opts ...JobOption) error {
	cfg := &jobConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	name := job.Name()
	logger := logutil.GetLogger(context.Background()).With(zap.String("job", name), zap.String("spec", spec))
	run := c.wrap(job, spec, cfg)
	entryID, err := c.cron.AddFunc(spec, func() { _ = run() })
	if err != nil {
		logger.Error("schedule job failed", zap.Error(err))
		return err
	}
	c.mu.Lock()
	c.entries[name] = entry{id: entryID, run: run}
	c.mu.Unlock()
	logger.Info("job scheduled", zap.Duration("timeout", cfg.timeout))
	return nil
}

// RunNow runs a registered job synchronously, sharing the overlap guard
// with its cron trigger.
func (c *CronScheduler) RunNow(name string) error {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %q not registered", name)
	}
	return e.run()
}

func (c *CronScheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	c.cron.Start()
}

func (c *CronScheduler) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

func (c *CronScheduler) baseContext() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ctx
}

func (c *CronScheduler) wrap(job Job, spec string, cfg *jobConfig) func() error {
	var running atomic.Bool
	return func() error {
		if !running.CompareAndSwap(false, true) {
			logutil.GetLogger(context.Background()).With(
				zap.String("job", job.Name()),
				zap.String("spec", spec),
			).Info("job skipped: still running")
			return ErrJobRunning
		}
		defer running.Store(false)

		ctx := c.baseContext()
		if cfg.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
			defer cancel()
		}
		logger := logutil.GetLogger(ctx).With(
			zap.String("job", job.Name()),
			zap.String("spec", spec),
		)
		start := time.Now()
		logger.Info("job started")
		err := job.Run(ctx)
		elapsed := time.Since(start)
		if err != nil {
			logger.Error("job finished", zap.Error(err), zap.Duration("duration", elapsed))
			return err
		}
		logger.Info("job finished", zap.Duration("duration", elapsed))
		return nil
	}
}
