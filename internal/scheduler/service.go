package scheduler

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/varoOP/shinkrometa/internal/domain"
	"github.com/varoOP/shinkrometa/internal/trending"
)

const (
	defaultAttempts = 3
	defaultDelay    = time.Minute
)

// Service runs the trending refresh once a day at a fixed local time.
type Service struct {
	log      zerolog.Logger
	trending trending.Service
	notify   domain.NotificationService

	hour, minute int
	attempts     uint
	delay        time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	now func() time.Time
}

// ParseSchedule parses an HH:MM time of day.
func ParseSchedule(schedule string) (int, int, error) {
	h, m, ok := strings.Cut(schedule, ":")
	if !ok {
		return 0, 0, errors.Errorf("invalid schedule %q, want HH:MM", schedule)
	}

	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, errors.Errorf("invalid hour in schedule %q", schedule)
	}

	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, errors.Errorf("invalid minute in schedule %q", schedule)
	}

	return hour, minute, nil
}

func NewService(log zerolog.Logger, trendingSvc trending.Service, notify domain.NotificationService, schedule string) (*Service, error) {
	hour, minute, err := ParseSchedule(schedule)
	if err != nil {
		return nil, err
	}

	return &Service{
		log:      log.With().Str("module", "scheduler").Logger(),
		trending: trendingSvc,
		notify:   notify,
		hour:     hour,
		minute:   minute,
		attempts: defaultAttempts,
		delay:    defaultDelay,
		now:      time.Now,
	}, nil
}

// Start launches the daily loop. Calling it twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.loop(ctx)

	s.log.Info().Str("at", s.at()).Msg("scheduler started")
}

// Stop cancels the loop and waits for a running refresh until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler stopped before the running refresh finished")
	}

	s.running = false
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		next := NextRun(s.now(), s.hour, s.minute)
		s.log.Debug().Time("next", next).Msg("waiting for next trending refresh")

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := s.RunNow(ctx); err != nil {
			s.log.Error().Err(err).Msg("scheduled trending refresh failed")
		}
	}
}

// RunNow refreshes trending, retrying upstream failures, and reports the
// outcome through the notification service.
func (s *Service) RunNow(ctx context.Context) error {
	var stats domain.TrendingStats

	err := retry.Do(
		func() error {
			var err error
			_, stats, err = s.trending.Refresh(ctx)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, domain.ErrUpstream) }),
		retry.OnRetry(func(n uint, err error) {
			s.log.Warn().Err(err).Uint("attempt", n+1).Msg("trending refresh failed, retrying")
		}),
	)

	if err != nil {
		if nerr := s.notify.SendError(ctx, err); nerr != nil {
			s.log.Error().Err(nerr).Msg("failed to send error notification")
		}
		return err
	}

	if nerr := s.notify.SendSuccess(ctx, stats); nerr != nil {
		s.log.Error().Err(nerr).Msg("failed to send success notification")
	}
	return nil
}

func (s *Service) at() string {
	return time.Date(0, 1, 1, s.hour, s.minute, 0, 0, time.UTC).Format("15:04")
}

// NextRun returns the first hour:minute strictly after now, in now's location.
func NextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
