package twilio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stripcall/internal/domain"
	"stripcall/internal/infra/metrics"
)

// Config holds the Twilio account settings.
type Config struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	Timeout    time.Duration
}

// Client talks to the Twilio Messages API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var _ domain.SMSGateway = (*Client)(nil)

// NewClient builds the SMS gateway client.
func NewClient(cfg Config) *Client {
	client := &Client{cfg: cfg}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.httpClient = &http.Client{Timeout: timeout}
	if cfg.BaseURL == "" {
		client.cfg.BaseURL = "https://api.twilio.com"
	}
	return client
}

// SetHTTPClient replaces the HTTP client, used in tests.
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	if httpClient != nil {
		c.httpClient = httpClient
	}
}

// Send posts one outbound SMS.
func (c *Client) Send(ctx context.Context, to, from, body string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(c.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("twilio", "send_sms", "messages", start, err)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("send failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}
