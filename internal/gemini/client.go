package gemini

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-quiz/internal/retry"
)

const (
	DefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	apiKeyHeader    = "x-goog-api-key"
	maxErrorBody    = 4096
)

// StatusError reports a non-2xx reply. Such replies are not retried.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Status)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

type Options struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	Attempts   int
	Retry      retry.Policy
	HTTPClient *http.Client
}

// Client calls the generateContent method of the Gemini REST API.
type Client struct {
	endpoint string
	apiKey   string
	attempts int
	policy   retry.Policy
	http     *http.Client
	tracer   trace.Tracer
}

func NewClient(opts Options) *Client {
	endpoint := strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanOptions(trace.WithSpanKind(trace.SpanKindClient)),
			),
		}
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = retry.DefaultAttempts
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   opts.APIKey,
		attempts: attempts,
		policy:   opts.Retry,
		http:     hc,
		tracer:   otel.Tracer("github.com/loqalabs/loqa-quiz/gemini"),
	}
}

// GenerateContent posts req to models/<model>:generateContent. Transport
// failures are retried; any HTTP reply, successful or not, ends the loop.
func (c *Client) GenerateContent(ctx context.Context, model string, req Request) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "gemini.generateContent", trace.WithAttributes(attribute.String("gemini.model", model)))
	defer span.End()

	resp, err := c.generate(ctx, model, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

func (c *Client) generate(ctx context.Context, model string, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	url := fmt.Sprintf("%s/models/%s:generateContent", c.endpoint, model)

	httpResp, err := retry.DoWithPolicy(ctx, c.policy, c.attempts, func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set(apiKeyHeader, c.apiKey)
		}
		return c.http.Do(httpReq)
	})
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, &StatusError{Status: httpResp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var out Response
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}
