package fcm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"stripcall/internal/domain"
	"stripcall/internal/infra/metrics"
)

// ErrBroadcastRejected is returned when FCM answers with a non-success status.
var ErrBroadcastRejected = errors.New("fcm rejected broadcast")

// Config holds the FCM connection settings.
type Config struct {
	Key     string
	BaseURL string
	Timeout time.Duration
}

// Client talks to the FCM legacy HTTP API.
type Client struct {
	http *resty.Client
}

var _ domain.PushGateway = (*Client)(nil)

// NewClient builds the push gateway client.
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://fcm.googleapis.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Key="+cfg.Key)
	return &Client{http: client}
}

type notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type broadcastRequest struct {
	Notification notification   `json:"notification"`
	To           string         `json:"to"`
	Data         map[string]any `json:"data"`
}

// Broadcast sends one notification to a crew topic. The message id and dedup
// key travel in the data payload so clients can acknowledge and deduplicate.
func (c *Client) Broadcast(ctx context.Context, b domain.PushBroadcast) error {
	req := broadcastRequest{
		Notification: notification{Title: b.Title, Body: b.Body},
		To:           "/topics/" + b.Topic,
		Data: map[string]any{
			"message_id": b.MessageID,
			"dedup_key":  b.DedupKey,
		},
	}
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post("/fcm/send")
	metrics.ObserveNetworkRequest("fcm", "broadcast", b.Topic, start, err)
	if err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: status %d", ErrBroadcastRejected, resp.StatusCode())
	}
	return nil
}
