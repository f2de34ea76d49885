package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/varoOP/shinkrometa/internal/domain"
)

const (
	colorSuccess = 0x00ff00
	colorPartial = 0xffa500
	colorError   = 0xff0000
)

type DiscordService struct {
	log        zerolog.Logger
	webhookURL string
	httpClient *http.Client
}

func NewDiscordService(log zerolog.Logger, webhookURL string) *DiscordService {
	return &DiscordService{
		log:        log.With().Str("module", "notification").Str("type", "discord").Logger(),
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SendSuccess reports a finished trending refresh. A refresh where some
// sources failed is reported in orange.
func (s *DiscordService) SendSuccess(ctx context.Context, stats domain.TrendingStats) error {
	if s.webhookURL == "" {
		return nil
	}

	color := colorSuccess
	failed := "none"
	if len(stats.FailedSources) > 0 {
		color = colorPartial
		failed = strings.Join(stats.FailedSources, ", ")
	}

	embed := discordEmbed{
		Title:       "Trending refreshed",
		Description: "The trending snapshot was replaced",
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields: []discordField{
			{Name: "Movies", Value: strconv.Itoa(stats.Movies), Inline: true},
			{Name: "Series", Value: strconv.Itoa(stats.Series) + " (" + strconv.Itoa(stats.AnimeTagged) + " anime)", Inline: true},
			{Name: "Anime", Value: strconv.Itoa(stats.Anime), Inline: true},
			{Name: "Failed sources", Value: failed, Inline: false},
			{Name: "Duration", Value: stats.Duration.Round(time.Millisecond).String(), Inline: true},
		},
	}

	return s.sendWebhook(ctx, discordWebhook{Embeds: []discordEmbed{embed}})
}

func (s *DiscordService) SendError(ctx context.Context, err error) error {
	if s.webhookURL == "" {
		return nil
	}

	embed := discordEmbed{
		Title:       "Trending refresh failed",
		Description: "The previous snapshot is still served.\n```" + err.Error() + "```",
		Color:       colorError,
		Timestamp:   time.Now().Format(time.RFC3339),
	}

	return s.sendWebhook(ctx, discordWebhook{Embeds: []discordEmbed{embed}})
}

func (s *DiscordService) sendWebhook(ctx context.Context, payload discordWebhook) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return errors.Wrap(err, "failed to create webhook request")
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send webhook request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("webhook request failed with status %d", resp.StatusCode)
	}

	s.log.Debug().Msg("Discord notification sent successfully")
	return nil
}

type discordWebhook struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Fields      []discordField `json:"fields,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}
