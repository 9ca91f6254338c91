// Package mail delivers transactional email through the configured HTTP
// relay. Delivery is best-effort; billing flows never block on it.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/campuskit-io/campuskit-backend/pkg/config"
)

const sendTimeout = 10 * time.Second

// Sender posts messages to the relay endpoint.
type Sender struct {
	endpoint string
	apiKey   string
	from     string
	client   *http.Client
}

// New builds a Sender from the mail configuration. A missing endpoint
// returns nil so callers can treat email as disabled.
func New(cfg config.MailConfig) *Sender {
	if cfg.Endpoint == "" {
		return nil
	}
	return &Sender{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		from:     cfg.DefaultFrom,
		client:   &http.Client{Timeout: sendTimeout},
	}
}

type message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Send posts one message to the relay.
func (s *Sender) Send(ctx context.Context, to, subject, body string) error {
	payload, err := json.Marshal(message{
		From:    s.from,
		To:      to,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		return fmt.Errorf("encoding mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting mail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("mail relay responded %d", resp.StatusCode)
	}
	return nil
}
