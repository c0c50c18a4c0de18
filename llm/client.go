package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/agentgraph/agerr"
	"github.com/c360studio/agentgraph/graph"
)

// Transport executes one {kind, payload} request against the external
// language-model service and decodes its JSON response into out. The
// concrete transport is an opaque boundary; HTTPTransport is the default,
// backed by an http.Client.
type Transport interface {
	Do(ctx context.Context, kind string, payload any, out any) error
}

// HTTPTransport posts {kind, payload} as a JSON body to Endpoint and
// decodes the JSON response body into out.
type HTTPTransport struct {
	Endpoint   string
	HTTPClient *http.Client
}

// NewHTTPTransport creates an HTTPTransport with a sensible request timeout.
func NewHTTPTransport(endpoint string) *HTTPTransport {
	return &HTTPTransport{
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Timeout: 180 * time.Second},
	}
}

type wireRequest struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

// Do implements Transport.
func (t *HTTPTransport) Do(ctx context.Context, kind string, payload any, out any) error {
	body, err := json.Marshal(wireRequest{Kind: kind, Payload: payload})
	if err != nil {
		return NewFatalError(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(body))
	if err != nil {
		return NewFatalError(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return NewTransientError(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return NewTransientError(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		snippet := string(data)
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		wrapErr := fmt.Errorf("llm service returned status %d: %s", resp.StatusCode, snippet)
		switch {
		case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
			return NewTransientError(wrapErr)
		default:
			return NewFatalError(wrapErr)
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return NewTransientError(fmt.Errorf("unmarshal response (schema violation): %w", err))
	}
	return nil
}

// Client implements Adapter over a Transport, adding response caching and
// retry-then-classify semantics.
type Client struct {
	transport Transport
	retry     RetryConfig
	cache     *responseCache
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTransport overrides the default HTTP transport (e.g. in tests).
func WithTransport(t Transport) Option { return func(c *Client) { c.transport = t } }

// WithRetryConfig overrides the default retry policy.
func WithRetryConfig(cfg RetryConfig) Option { return func(c *Client) { c.retry = cfg } }

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithCacheTTL overrides the default response cache TTL (0 disables caching).
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) { c.cache = newResponseCache(ttl) }
}

// NewClient creates a Client. endpoint configures the default HTTPTransport;
// pass WithTransport to replace it entirely (e.g. for the rule-based
// in-process fallback transport used in tests).
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		transport: NewHTTPTransport(endpoint),
		retry:     DefaultRetryConfig(),
		cache:     newResponseCache(30 * time.Minute),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call executes kind/payload through the transport with caching and retry,
// returning a KindLLMError error with code LLM_UNAVAILABLE wrapping the
// final failure when every attempt is exhausted (agerr.LLMErr on a fatal
// error) — callers treat that as Unavailable and fall back.
func (c *Client) call(ctx context.Context, kind string, payload any, out any) error {
	key, err := cacheKey(kind, payload)
	if err == nil {
		if cached, ok := c.cache.get(key); ok {
			return json.Unmarshal(cached, out)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		rawOut := json.RawMessage{}
		err := c.transport.Do(ctx, kind, payload, &rawOut)
		if err == nil {
			if err := json.Unmarshal(rawOut, out); err != nil {
				lastErr = NewTransientError(fmt.Errorf("decode %s response: %w", kind, err))
			} else {
				if key != "" {
					c.cache.put(key, rawOut)
				}
				return nil
			}
		} else {
			lastErr = err
		}

		if IsFatal(lastErr) {
			return agerr.LLMErr(lastErr.Error()).WithCause(lastErr)
		}
		if attempt < c.retry.MaxAttempts {
			c.logger.Debug("llm call failed, retrying",
				slog.String("kind", kind), slog.Int("attempt", attempt), slog.String("error", lastErr.Error()))
			select {
			case <-ctx.Done():
				return agerr.Cancelled("llm call cancelled during retry backoff")
			case <-time.After(c.retry.backoffFor(attempt)):
			}
		}
	}
	return agerr.New(agerr.KindLLMError, "LLM_UNAVAILABLE", "llm call exhausted retries for "+kind).WithCause(lastErr)
}

// AnalyzeRequirements implements Adapter.
func (c *Client) AnalyzeRequirements(ctx context.Context, text string) (Analysis, error) {
	var out Analysis
	err := c.call(ctx, "analyzeRequirements", map[string]string{"text": text}, &out)
	return out, err
}

// CreateBlueprint implements Adapter.
func (c *Client) CreateBlueprint(ctx context.Context, analysis Analysis, originalText string) (Blueprint, error) {
	var out Blueprint
	payload := map[string]any{"analysis": analysis, "originalText": originalText}
	err := c.call(ctx, "createBlueprint", payload, &out)
	if err == nil && out.ProjectID == "" {
		out.ProjectID = uuid.NewString()
	}
	return out, err
}

// GenerateTasks implements Adapter.
func (c *Client) GenerateTasks(ctx context.Context, bp Blueprint, availableSpecialists []string) ([]*graph.Task, error) {
	var out []*graph.Task
	payload := map[string]any{"blueprint": bp, "availableSpecialists": availableSpecialists}
	err := c.call(ctx, "generateTasks", payload, &out)
	return out, err
}

// ScoreAssignment implements Adapter.
func (c *Client) ScoreAssignment(ctx context.Context, task *graph.Task, workerID string, history string) (AssignmentScore, error) {
	var out AssignmentScore
	payload := map[string]any{"task": task, "workerId": workerID, "history": history}
	err := c.call(ctx, "scoreAssignment", payload, &out)
	return out, err
}

var _ Adapter = (*Client)(nil)
