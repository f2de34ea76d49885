package notification

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/varoOP/shinkrometa/internal/domain"
)

// Service fans notifications out to every configured channel.
type Service struct {
	discord *DiscordService
}

// NewService returns a service that does nothing when no webhook is set.
func NewService(log zerolog.Logger, webhookURL string) domain.NotificationService {
	var discord *DiscordService
	if webhookURL != "" {
		discord = NewDiscordService(log, webhookURL)
	}

	return &Service{
		discord: discord,
	}
}

func (s *Service) SendSuccess(ctx context.Context, stats domain.TrendingStats) error {
	if s.discord != nil {
		if err := s.discord.SendSuccess(ctx, stats); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) SendError(ctx context.Context, err error) error {
	if s.discord != nil {
		if err := s.discord.SendError(ctx, err); err != nil {
			return err
		}
	}
	return nil
}
