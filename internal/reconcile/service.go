// internal/reconcile/service.go
package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"reddit-image-download/internal/logging"
)

// Runner performs one reconciliation run.
type Runner interface {
	Run(ctx context.Context) (Report, error)
}

// Service runs reconciliation on a cron schedule. A run still in progress
// when the next one is due causes that one to be skipped.
type Service struct {
	runner Runner
	cron   *cron.Cron
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	wg     sync.WaitGroup
}

func NewService(runner Runner, schedule string, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := logging.CronLogger(logger)
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		runner: runner,
		cron:   c,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	if _, err := c.AddFunc(schedule, s.run); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs once immediately, then hands over to the schedule.
func (s *Service) Start() {
	s.logger.Info("starting reconcile service")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.ctx.Err() == nil {
			s.cron.Start()
		}
	}()
}

// Stop cancels the current run and waits for it to return.
func (s *Service) Stop() {
	s.cancel()
	s.mu.Lock()
	<-s.cron.Stop().Done()
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("reconcile service stopped")
}

func (s *Service) run() {
	if s.ctx.Err() != nil {
		return
	}
	if _, err := s.runner.Run(s.ctx); err != nil {
		s.logger.Error("reconcile run failed", zap.Error(err))
	}
}
