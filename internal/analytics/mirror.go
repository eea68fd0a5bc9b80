package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/retry"

	"linkhub/internal/clicks"
)

// Mirror forwards click events to an external analytics endpoint with a
// best-effort POST. Failures are retried a bounded number of times and
// then dropped; they never reach the redirect path.
type Mirror struct {
	endpoint string
	client   *http.Client
	strat    retry.Strategy
	log      *zerolog.Logger
}

func NewMirror(endpoint string, timeout time.Duration, strat retry.Strategy, log *zerolog.Logger) *Mirror {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Mirror{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		strat:    strat,
		log:      log,
	}
}

func (m *Mirror) Enabled() bool {
	return m.endpoint != ""
}

func (m *Mirror) Send(ctx context.Context, ev clicks.Event) error {
	if m.endpoint == "" {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode click event: %w", err)
	}

	return retry.Do(func() error {
		return m.post(ctx, payload)
	}, m.strat)
}

func (m *Mirror) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build mirror request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mirror request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("mirror responded with status %d", resp.StatusCode)
	}
	return nil
}
