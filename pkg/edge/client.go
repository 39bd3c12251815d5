// Package edge talks to the Supabase Edge Functions that front the Meta
// Conversions API and client-IP detection.
package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	capiPath     = "/functions/v1/meta-capi"
	clientIPPath = "/functions/v1/get-client-ip"

	// defaultIPTimeout bounds the client-IP lookup so callers are never
	// blocked waiting on enrichment data.
	defaultIPTimeout = 5 * time.Second
)

// CAPIEvent is the request body for POST /functions/v1/meta-capi. UserData
// carries the sanitized attribution record; EventID must match the id used
// on the browser pixel call so the platform can deduplicate the pair.
type CAPIEvent struct {
	EventName      string `json:"event_name"`
	UserData       any    `json:"user_data"`
	EventID        string `json:"event_id"`
	EventTime      int64  `json:"event_time"`
	EventSourceURL string `json:"event_source_url,omitempty"`
}

// Client performs calls against the edge functions.
type Client interface {
	// SendEvent posts a server-side conversion event.
	SendEvent(ctx context.Context, ev CAPIEvent) error
	// ClientIP resolves the caller's public address. The call is bounded
	// by a hard timeout.
	ClientIP(ctx context.Context) (string, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit overrides the outbound CAPI rate limit.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *httpClient) { c.limiter = rate.NewLimiter(limit, burst) }
}

// WithIPTimeout overrides the client-IP lookup bound.
func WithIPTimeout(d time.Duration) Option {
	return func(c *httpClient) { c.ipTimeout = d }
}

// WithLogger overrides the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *httpClient) { c.log = l }
}

type httpClient struct {
	baseURL   string
	anonKey   string
	http      *http.Client
	limiter   *rate.Limiter
	ipTimeout time.Duration
	log       *zap.Logger
}

// NewClient creates an edge-function client authenticated with the project
// anon key.
func NewClient(baseURL, anonKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:   rate.NewLimiter(10, 20),
		ipTimeout: defaultIPTimeout,
		log:       zap.L(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) checkConfig() error {
	if c.baseURL == "" {
		return eris.New("edge: missing base URL")
	}
	if c.anonKey == "" {
		return eris.New("edge: missing anon key")
	}
	return nil
}

func (c *httpClient) SendEvent(ctx context.Context, ev CAPIEvent) error {
	if err := c.checkConfig(); err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "edge: rate limit wait")
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "edge: marshal event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+capiPath, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "edge: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.anonKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "edge: send event")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "edge: read response")
	}

	c.log.Debug("capi response",
		zap.String("event_id", ev.EventID),
		zap.Int("status", resp.StatusCode),
		zap.ByteString("body", respBody),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return eris.Errorf("edge: capi unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (c *httpClient) ClientIP(ctx context.Context) (string, error) {
	if err := c.checkConfig(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.ipTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+clientIPPath, nil)
	if err != nil {
		return "", eris.Wrap(err, "edge: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.anonKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "edge: fetch client ip")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "edge: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("edge: client-ip unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		IP string `json:"ip"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", eris.Wrap(err, "edge: unmarshal response")
	}

	ip := strings.TrimSpace(result.IP)
	if ip == "" {
		return "", eris.Errorf("edge: client-ip response missing ip: %s", string(respBody))
	}
	return ip, nil
}
