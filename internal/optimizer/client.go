package optimizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"promptgate/internal/optimize"
	"promptgate/pkg/logx"
)

type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RatePerSec int
}

// Client talks to the optimization engine over HTTP. Outbound calls
// share a token bucket so a burst of jobs cannot flood the upstream.
type Client struct {
	base    string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger

	calls    atomic.Uint64
	failures atomic.Uint64
}

func NewClient(cfg ClientConfig, log logx.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("optimizer: base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log,
	}, nil
}

func (c *Client) Optimize(ctx context.Context, req optimize.Request) (*optimize.Result, error) {
	var out optimize.Result
	if err := c.call(ctx, "/optimize", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Score(ctx context.Context, req optimize.ScoreRequest) (*optimize.Score, error) {
	var out optimize.Score
	if err := c.call(ctx, "/score", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Compare(ctx context.Context, req optimize.CompareRequest) (*optimize.Comparison, error) {
	var out optimize.Comparison
	if err := c.call(ctx, "/compare", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("optimizer health: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("optimizer health: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) Stats() CallStats {
	return CallStats{Calls: c.calls.Load(), Failures: c.failures.Load()}
}

func (c *Client) call(ctx context.Context, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return c.fail(optimize.Wrap(optimize.KindTimeout, err, "optimizer call gave up waiting"))
	}
	body, err := json.Marshal(in)
	if err != nil {
		return c.fail(optimize.Wrap(optimize.KindInternal, err, "encode optimizer request"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return c.fail(optimize.Wrap(optimize.KindInternal, err, "build optimizer request"))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.calls.Add(1)
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return c.fail(optimize.Wrap(optimize.KindTimeout, err, "optimizer call timed out"))
		}
		return c.fail(optimize.Wrap(optimize.KindOptimizerFailure, err, "optimizer unreachable"))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return c.fail(optimize.Wrap(optimize.KindOptimizerFailure, err, "read optimizer response"))
	}
	c.log.Debug("optimizer call",
		logx.String("path", path),
		logx.Int("status", resp.StatusCode),
		logx.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.fail(optimize.Errorf(optimize.KindOptimizerFailure,
			"optimizer returned status %d: %s", resp.StatusCode, truncate(raw, 200)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return c.fail(optimize.Wrap(optimize.KindOptimizerFailure, err, "decode optimizer response"))
	}
	return nil
}

func (c *Client) fail(err error) error {
	c.failures.Add(1)
	return err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
