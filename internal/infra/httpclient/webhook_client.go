package httpclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"fleet_server/internal/domain"
)

// GoalWebhook posts goal crossings to a chat webhook (Discord-compatible body).
type GoalWebhook struct {
	client *resty.Client
	url    string
}

type webhookMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []webhookEmbed `json:"embeds,omitempty"`
}

type webhookEmbed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	Color       int    `json:"color,omitempty"`
}

const goalColor = 0x2ecc71

func NewGoalWebhook(url string, opts ...func(*resty.Client)) (*GoalWebhook, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("webhook url is required")
	}

	client := resty.New().
		SetHeader("Content-Type", "application/json").
		SetTimeout(10 * time.Second)

	for _, opt := range opts {
		opt(client)
	}

	return &GoalWebhook{
		client: client,
		url:    url,
	}, nil
}

func (w *GoalWebhook) NotifyGoalAchieved(ctx context.Context, record domain.ClientRecord) error {
	msg := webhookMessage{
		Content: fmt.Sprintf("%s reached its profit goal", record.Identity),
		Embeds: []webhookEmbed{{
			Title: "Goal achieved",
			Description: fmt.Sprintf("Cumulative profit %.2f / target %.2f",
				record.CumulativeProfit, record.TargetProfit),
			Timestamp: record.LastUpdatedAt.UTC().Format(time.RFC3339),
			Color:     goalColor,
		}},
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(msg).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("post goal webhook: %w", err)
	}

	if resp.StatusCode() >= 400 {
		return fmt.Errorf("webhook responded with status %d", resp.StatusCode())
	}

	return nil
}
