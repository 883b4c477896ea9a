// services/scheduler.go
package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DayArchiver archives the UTC day before now.
type DayArchiver interface {
	ArchivePreviousDay(ctx context.Context, now time.Time) (int, error)
}

// Scheduler owns the recurring jobs: the tick, the encounter retention sweep and the
// optional ledger archive.
type Scheduler struct {
	Driver       *TickDriver
	Encounters   *EncounterEngine
	Archiver     DayArchiver
	TickInterval time.Duration
	Retention    time.Duration
	// JobTimeout bounds a single job run.
	JobTimeout time.Duration
	Now        func() time.Time
	Log        *zap.Logger

	sched gocron.Scheduler
}

func NewScheduler(driver *TickDriver, encounters *EncounterEngine, archiver DayArchiver, tickInterval, retention time.Duration, log *zap.Logger) *Scheduler {
	return &Scheduler{
		Driver:       driver,
		Encounters:   encounters,
		Archiver:     archiver,
		TickInterval: tickInterval,
		Retention:    retention,
		JobTimeout:   5 * time.Minute,
		Now:          time.Now,
		Log:          log,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return errors.Wrap(err, "create scheduler")
	}

	// Every tick interval: event lifecycle and proximity earnings
	if _, err := sched.NewJob(
		gocron.DurationJob(s.TickInterval),
		gocron.NewTask(func() { s.tick(ctx) }),
		gocron.WithName("tick"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return errors.Wrap(err, "schedule tick")
	}

	// Daily 03:00 UTC: drop encounters idle past retention
	if s.Retention > 0 {
		if _, err := sched.NewJob(
			gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(3, 0, 0))),
			gocron.NewTask(func() { s.prune(ctx) }),
			gocron.WithName("encounter-retention"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return errors.Wrap(err, "schedule retention sweep")
		}
	}

	// Daily 00:15 UTC: archive yesterday's ledger rows
	if s.Archiver != nil {
		if _, err := sched.NewJob(
			gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 15, 0))),
			gocron.NewTask(func() { s.archive(ctx) }),
			gocron.WithName("ledger-archive"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return errors.Wrap(err, "schedule ledger archive")
		}
	}

	sched.Start()
	s.sched = sched
	s.Log.Info("[Scheduler] started", zap.Duration("tick_interval", s.TickInterval))
	return nil
}

func (s *Scheduler) Shutdown() error {
	if s.sched == nil {
		return nil
	}
	return s.sched.Shutdown()
}

func (s *Scheduler) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.JobTimeout)
	defer cancel()
	if _, err := s.Driver.RunTick(ctx, s.Now()); err != nil {
		if errors.Is(err, ErrTickInProgress) {
			s.Log.Info("[Scheduler] tick skipped, another run holds the lease")
			return
		}
		s.Log.Error("[Scheduler] tick failed", zap.Error(err))
	}
}

func (s *Scheduler) prune(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.JobTimeout)
	defer cancel()
	if _, err := s.Encounters.Prune(ctx, s.Retention, s.Now()); err != nil {
		s.Log.Error("[Scheduler] retention sweep failed", zap.Error(err))
	}
}

func (s *Scheduler) archive(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.JobTimeout)
	defer cancel()
	if _, err := s.Archiver.ArchivePreviousDay(ctx, s.Now()); err != nil {
		s.Log.Error("[Scheduler] ledger archive failed", zap.Error(err))
	}
}
