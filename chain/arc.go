// Package chain implements the outbound chain service clients: an ARC
// broadcaster and a block header service, composed into the single
// Service type the transaction engine consumes.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ArcConfig configures the broadcaster client.
type ArcConfig struct {
	URL           string
	Token         string
	CallbackURL   string
	CallbackToken string
	WaitFor       string
	DeploymentID  string
	Timeout       time.Duration
}

// ArcClient talks to an ARC transaction processor.
type ArcClient struct {
	cfg     ArcConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	retry   retryPolicy
	log     *logrus.Entry
}

// NewArcClient creates a broadcaster client. The circuit breaker opens
// after sustained transport failures so a dead processor fails fast.
func NewArcClient(cfg ArcConfig, log *logrus.Entry) *ArcClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ArcClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "arc",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests > 10 && ratio >= 0.6
			},
		}),
		retry: defaultRetry,
		log:   log,
	}
}

// Broadcast submits a transaction (raw, extended, or envelope hex) and
// returns the broadcaster's projection. Policy rejections surface as the
// domain taxonomy immediately; transport failures are retried with
// bounded backoff.
func (c *ArcClient) Broadcast(ctx context.Context, rawTxHex string) (*TXInfo, error) {
	body, err := json.Marshal(map[string]string{"rawTx": rawTxHex})
	if err != nil {
		return nil, fmt.Errorf("chain: marshal broadcast request: %w", err)
	}

	var info *TXInfo
	err = c.retry.do(ctx, func() error {
		info, err = c.doTXInfo(ctx, http.MethodPost, c.cfg.URL+"/v1/tx", body)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{
		"txid":   info.TxID,
		"status": info.TxStatus,
	}).Debug("transaction submitted")
	return info, nil
}

// QueryStatus fetches the broadcaster's current projection for txid.
func (c *ArcClient) QueryStatus(ctx context.Context, txid string) (*TXInfo, error) {
	var info *TXInfo
	err := c.retry.do(ctx, func() error {
		var err error
		info, err = c.doTXInfo(ctx, http.MethodGet, c.cfg.URL+"/v1/tx/"+txid, nil)
		return err
	})
	return info, err
}

// FetchPolicy fetches the broadcaster's fee and acceptance policy.
func (c *ArcClient) FetchPolicy(ctx context.Context) (*PolicyResponse, error) {
	var policy PolicyResponse
	err := c.retry.do(ctx, func() error {
		status, raw, err := c.doRequest(ctx, http.MethodGet, c.cfg.URL+"/v1/policy", nil)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return mapStatusCode(status, raw)
		}
		if err := json.Unmarshal(raw, &policy); err != nil {
			return fmt.Errorf("%w: policy: %w", ErrInvalidResponse, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &policy, nil
}

func (c *ArcClient) doTXInfo(ctx context.Context, method, url string, body []byte) (*TXInfo, error) {
	status, raw, err := c.doRequest(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, mapStatusCode(status, raw)
	}
	var info TXInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return &info, nil
}

func (c *ArcClient) doRequest(ctx context.Context, method, url string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("chain: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if c.cfg.CallbackURL != "" {
		req.Header.Set("X-CallbackUrl", c.cfg.CallbackURL)
	}
	if c.cfg.CallbackToken != "" {
		req.Header.Set("X-CallbackToken", c.cfg.CallbackToken)
	}
	if c.cfg.WaitFor != "" {
		req.Header.Set("X-WaitFor", c.cfg.WaitFor)
	}
	if c.cfg.DeploymentID != "" {
		req.Header.Set("XDeployment-ID", c.cfg.DeploymentID)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
		}
		defer func() { _ = resp.Body.Close() }()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %w", ErrUnreachable, err)
		}
		return &httpResult{status: resp.StatusCode, body: raw}, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return 0, nil, fmt.Errorf("%w: circuit open", ErrUnreachable)
		}
		return 0, nil, err
	}
	res := result.(*httpResult)
	return res.status, res.body, nil
}

type httpResult struct {
	status int
	body   []byte
}

// mapStatusCode maps broadcaster status codes onto the domain taxonomy.
func mapStatusCode(status int, body []byte) error {
	detail := string(body)
	if len(detail) > 512 {
		detail = detail[:512]
	}
	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrBroadcastUnauthorized, detail)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrBroadcastDuplicate, detail)
	case 460, 461:
		return fmt.Errorf("%w: HTTP %d: %s", ErrBroadcastMalformed, status, detail)
	case 465:
		return fmt.Errorf("%w: %s", ErrBroadcastFeeTooLow, detail)
	case 473:
		return fmt.Errorf("%w: %s", ErrBroadcastCumulativeFee, detail)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrTxNotFound, detail)
	default:
		if status >= 500 {
			return fmt.Errorf("%w: HTTP %d: %s", ErrUnreachable, status, detail)
		}
		return fmt.Errorf("%w: HTTP %d: %s", ErrInvalidResponse, status, detail)
	}
}
