// Package messaging delivers course notifications over a Postmark-style
// HTTP email API and builds the message bodies for them.
package messaging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Message is one outbound notification.
type Message struct {
	FromName  string
	FromEmail string
	ToName    string
	ToEmail   string
	Subject   string
	Body      string
}

// Sender delivers messages. Implementations must be safe for concurrent use.
type Sender interface {
	Send(msg Message) error
}

type Client struct {
	serverToken string
	apiURL      string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithAPIURL overrides the delivery endpoint, for tests.
func WithAPIURL(url string) Option {
	return func(cl *Client) {
		cl.apiURL = url
	}
}

func NewClient(serverToken string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		apiURL:      "https://api.postmarkapp.com/email",
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type apiEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	TextBody string `json:"TextBody"`
}

func (c *Client) Send(msg Message) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}

	payload := apiEmail{
		From:     fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail),
		To:       fmt.Sprintf("%s <%s>", msg.ToName, msg.ToEmail),
		Subject:  msg.Subject,
		TextBody: msg.Body,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequest("POST", c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("email API error: status %d", resp.StatusCode)
	}
	return nil
}

// LogSender writes messages to the log instead of delivering them. Used when
// no email credentials are configured.
type LogSender struct {
	Log *slog.Logger
}

func (s *LogSender) Send(msg Message) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("email delivery skipped (no sender configured)",
		"to", msg.ToEmail,
		"subject", msg.Subject)
	return nil
}
