package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	contentType    = "application/json"
	scorePath      = "/calculate-score"
	defaultTimeout = 10 * time.Second
	userAgent      = "spigell/intern-allocator"
)

// Client talks to the embedding similarity engine.
type Client struct {
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

type scoreRequest struct {
	StudentText string `json:"student_text"`
	JobText     string `json:"job_text"`
}

type scoreResponse struct {
	Score  *float64 `json:"score"`
	Status string   `json:"status"`
}

func New(apiURL string, logger *zap.Logger) (*Client, error) {
	apiURL = strings.TrimRight(strings.TrimSpace(apiURL), "/")
	if apiURL == "" {
		return nil, errors.New("similarity engine url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		logger:    logger,
		APIURL:    apiURL,
		UserAgent: userAgent,
		HTTPClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}, nil
}

// Similarity posts both documents to the engine and returns its percentage score.
func (c *Client) Similarity(ctx context.Context, studentText, jobText string) (float64, error) {
	var resp scoreResponse
	if err := c.postJSON(ctx, c.APIURL+scorePath, scoreRequest{StudentText: studentText, JobText: jobText}, &resp); err != nil {
		return 0, err
	}

	if resp.Score == nil {
		return 0, fmt.Errorf("engine response has no score (status %q)", resp.Status)
	}
	if math.IsNaN(*resp.Score) || math.IsInf(*resp.Score, 0) {
		return 0, fmt.Errorf("engine returned invalid score %v", *resp.Score)
	}

	return *resp.Score, nil
}

func (c *Client) postJSON(ctx context.Context, url string, payload, target any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", c.UserAgent)

	c.logger.Debug("make request", zap.String("url", url))
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode engine response: %w", err)
	}

	return nil
}
