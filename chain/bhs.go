package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// BHSConfig configures the block header service client.
type BHSConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// BHSClient talks to a block header service for Merkle root
// confirmation against the longest chain of headers.
type BHSClient struct {
	cfg    BHSConfig
	client *http.Client
	retry  retryPolicy
	log    *logrus.Entry
}

// NewBHSClient creates a header service client.
func NewBHSClient(cfg BHSConfig, log *logrus.Entry) *BHSClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &BHSClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
		retry: defaultRetry,
		log:   log,
	}
}

// VerifyMerkleRoots submits a batch of (root, height) pairs and returns
// the service's confirmation verdict.
func (c *BHSClient) VerifyMerkleRoots(ctx context.Context, requests []MerkleRootRequest) (*MerkleRootsConfirmations, error) {
	body, err := json.Marshal(requests)
	if err != nil {
		return nil, fmt.Errorf("chain: marshal verify request: %w", err)
	}

	var confirmations MerkleRootsConfirmations
	err = c.retry.do(ctx, func() error {
		return c.doJSON(ctx, http.MethodPost, c.cfg.URL+"/api/v1/chain/merkleroot/verify", body, &confirmations)
	})
	if err != nil {
		return nil, err
	}
	return &confirmations, nil
}

// IsValidRootForHeight reports whether the service confirms merkleRoot
// at blockHeight. Satisfies spv.MerkleRootConfirmer.
func (c *BHSClient) IsValidRootForHeight(ctx context.Context, merkleRoot string, blockHeight uint32) (bool, error) {
	confirmations, err := c.VerifyMerkleRoots(ctx, []MerkleRootRequest{
		{MerkleRoot: merkleRoot, BlockHeight: uint64(blockHeight)},
	})
	if err != nil {
		return false, err
	}
	return confirmations.ConfirmationState == ConfirmationConfirmed, nil
}

// MerkleRoots fetches one page of the service's (root, height) listing,
// starting after lastEvaluatedKey when non-negative.
func (c *BHSClient) MerkleRoots(ctx context.Context, batchSize int, lastEvaluatedKey int64) (*MerkleRootsPage, error) {
	url := c.cfg.URL + "/api/v1/chain/merkleroot?batchSize=" + strconv.Itoa(batchSize)
	if lastEvaluatedKey >= 0 {
		url += "&lastEvaluatedKey=" + strconv.FormatInt(lastEvaluatedKey, 10)
	}

	var page MerkleRootsPage
	err := c.retry.do(ctx, func() error {
		return c.doJSON(ctx, http.MethodGet, url, nil, &page)
	})
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// Healthcheck reports whether the service answers its status endpoint.
func (c *BHSClient) Healthcheck(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, c.cfg.URL+"/status", nil, nil)
}

func (c *BHSClient) doJSON(ctx context.Context, method, url string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("chain: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %w", ErrUnreachable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return mapStatusCode(resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
		}
	}
	return nil
}
