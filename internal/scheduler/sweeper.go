package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

const sweepJobName = "reward-expiry-sweep"

var (
	errMissingSweeper  = errors.New("scheduler: sweeper is required")
	errInvalidInterval = errors.New("scheduler: interval must be positive")
)

// ExpirySweeper stores the expired status on reward codes whose expiry has passed.
type ExpirySweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

type Config struct {
	Interval time.Duration
	Sweeper  ExpirySweeper
	Logger   *zap.Logger
}

// Scheduler runs the periodic ledger maintenance jobs.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

func New(cfg Config) (*Scheduler, error) {
	if cfg.Sweeper == nil {
		return nil, errMissingSweeper
	}
	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	inner, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{scheduler: inner, logger: logger, ctx: ctx, cancel: cancel}

	_, err = inner.NewJob(
		gocron.DurationJob(cfg.Interval),
		gocron.NewTask(func() {
			swept, err := cfg.Sweeper.SweepExpired(s.ctx)
			if err != nil {
				s.logger.Warn("expiry sweep failed", zap.String("job", sweepJobName), zap.Error(err))
				return
			}
			if swept > 0 {
				s.logger.Debug("expiry sweep complete", zap.String("job", sweepJobName), zap.Int64("expired", swept))
			}
		}),
		gocron.WithName(sweepJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		cancel()
		_ = inner.Shutdown()
		return nil, err
	}
	return s, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Info("scheduler started", zap.String("job", sweepJobName))
}

// Shutdown cancels in-flight jobs and waits for the scheduler to stop.
func (s *Scheduler) Shutdown() error {
	s.cancel()
	return s.scheduler.Shutdown()
}
