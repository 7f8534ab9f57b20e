// Package schedule runs one poll job per chain on a cron.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

const DefaultInterval = 10 * time.Second

// Job is one chain's poll loop body.
type Job interface {
	Chain() string
	Tick(ctx context.Context) error
}

// Scheduler never lets a job error or panic end the loop. A tick still
// running when the next one is due causes that next one to be skipped.
type Scheduler struct {
	ctx  context.Context
	cron *cron.Cron
	log  *log.Entry
}

func New(ctx context.Context) *Scheduler {
	logger := cron.PrintfLogger(log.StandardLogger())
	return &Scheduler{
		ctx: ctx,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(logger),
			// Recover must sit inside SkipIfStillRunning, which only frees its slot
			// when the wrapped job returns.
			cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)),
		),
		log: log.WithField("component", "schedule"),
	}
}

// Add registers job to run every interval.
func (s *Scheduler) Add(job Job, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := s.cron.AddFunc(spec, func() { s.run(job) }); err != nil {
		return fmt.Errorf("schedule %s: %w", job.Chain(), err)
	}
	s.log.Infof("> %s poller scheduled %s", job.Chain(), spec)
	return nil
}

func (s *Scheduler) run(job Job) {
	if s.ctx.Err() != nil {
		return
	}
	if err := job.Tick(s.ctx); err != nil {
		s.log.WithField("chain", job.Chain()).Errorf("> poll tick failed: %v", err)
	}
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop prevents new runs and waits for running ones to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
