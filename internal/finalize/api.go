package finalize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
)

// APIConfig locates the reporting API.
type APIConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// APIClient posts batch notifications with HTTP basic auth.
type APIClient struct {
	cfg     APIConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

type apiRequest struct {
	BatchID  string `json:"batch_id"`
	Expected int64  `json:"expected"`
}

// NewAPIClient builds an APIClient with its own circuit breaker.
func NewAPIClient(cfg APIConfig, logger *zap.Logger) *APIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}
	settings := gobreaker.Settings{
		Name:        "finalize-api",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &APIClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Post sends the batch to {BaseURL}/{endpoint}. Any status but 200 is an error.
func (c *APIClient) Post(ctx context.Context, endpoint string, batch fleet.Batch) error {
	body, err := json.Marshal(apiRequest{BatchID: batch.ID, Expected: batch.Expected})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")

	_, err = c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("post %s: %w", url, err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("post %s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(snippet)))
		}
		return nil, nil
	})
	return err
}

// APIStep posts to one endpoint of the reporting API.
type APIStep struct {
	client   *APIClient
	endpoint string
}

// NewAPIStep builds an APIStep.
func NewAPIStep(client *APIClient, endpoint string) *APIStep {
	return &APIStep{client: client, endpoint: endpoint}
}

// Name implements Step.
func (s *APIStep) Name() string { return "api:" + s.endpoint }

// Run implements Step.
func (s *APIStep) Run(ctx context.Context, batch fleet.Batch) error {
	return s.client.Post(ctx, s.endpoint, batch)
}
