package tasks

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DigestSpec fires every Saturday at 10:00 local time.
const DigestSpec = "0 10 * * 6"

// DigestScheduler enqueues weekly_digest on DigestSpec.
type DigestScheduler struct {
	enq      Enqueuer
	log      *zap.Logger
	schedule cron.Schedule
	now      func() time.Time
}

func NewDigestScheduler(enq Enqueuer, log *zap.Logger) (*DigestScheduler, error) {
	schedule, err := cron.ParseStandard(DigestSpec)
	if err != nil {
		return nil, err
	}
	return &DigestScheduler{enq: enq, log: log, schedule: schedule, now: time.Now}, nil
}

// Next returns the first firing time after t.
func (s *DigestScheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

func (s *DigestScheduler) fire(ctx context.Context) {
	week := s.now()
	if _, err := s.enq.Enqueue(ctx, WeeklyDigest, DigestArgs{Week: week}); err != nil {
		s.log.Warn("weekly digest enqueue failed", zap.Error(err))
		return
	}
	s.log.Info("weekly digest enqueued", zap.Time("week", week), zap.Time("next", s.Next(week)))
}

// Run blocks until ctx is done.
func (s *DigestScheduler) Run(ctx context.Context) {
	c := cron.New(cron.WithLogger(cronLogger{s.log.Sugar()}))
	c.Schedule(s.schedule, cron.FuncJob(func() { s.fire(ctx) }))
	c.Start()
	s.log.Info("weekly digest scheduled", zap.Time("at", s.Next(s.now())))
	<-ctx.Done()
	<-c.Stop().Done()
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
