package service

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"
)

// JobScheduler wraps cron-based background jobs. A job that is still running
// when its next tick comes is skipped, and a panicking job is recovered.
type JobScheduler struct {
	cron *cron.Cron
	ctx  context.Context
}

func NewJobScheduler(ctx context.Context, loc *time.Location) *JobScheduler {
	logger := cron.VerbosePrintfLogger(log.New(os.Stdout, "[cron] ", log.LstdFlags))
	return &JobScheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ctx: ctx,
	}
}

// ScheduleDaily registers a daily job at the given HH:MM time string.
func (s *JobScheduler) ScheduleDaily(timeStr string, job func(ctx context.Context)) (cron.EntryID, error) {
	spec, err := buildDailySpec(timeStr)
	if err != nil {
		return 0, err
	}
	return s.cron.AddFunc(spec, func() { job(s.ctx) })
}

// ScheduleInterval registers a periodic job every given duration.
func (s *JobScheduler) ScheduleInterval(interval time.Duration, job func(ctx context.Context)) (cron.EntryID, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("interval must be positive")
	}
	seconds := int(interval.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	spec := fmt.Sprintf("@every %ds", seconds)
	return s.cron.AddFunc(spec, func() { job(s.ctx) })
}

func (s *JobScheduler) Start() {
	s.cron.Start()
}

// Stop waits for running jobs to finish.
func (s *JobScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func buildDailySpec(timeStr string) (string, error) {
	hour, minute, err := ParseTimeLabel(timeStr)
	if err != nil {
		return "", err
	}
	// cron format: second minute hour dom month dow
	return fmt.Sprintf("0 %d %d * * *", minute, hour), nil
}
