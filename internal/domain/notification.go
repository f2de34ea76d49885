package domain

import (
	"context"
	"time"
)

// NotificationService reports the outcome of scheduled work.
type NotificationService interface {
	SendSuccess(ctx context.Context, stats TrendingStats) error
	SendError(ctx context.Context, err error) error
}

// TrendingStats summarises one trending refresh.
type TrendingStats struct {
	Movies        int
	Series        int
	Anime         int
	AnimeTagged   int
	FailedSources []string
	Duration      time.Duration
}
