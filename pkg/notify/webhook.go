package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/praetorian-inc/certwatch/pkg/types"
)

// Webhook payload formats.
const (
	FormatSlack = "slack" // {"text":"domain -> p1, p2"}
	FormatJSON  = "json"  // {"domain":"...","patterns":["..."]}
)

// WebhookOptions configures a WebhookSink.
type WebhookOptions struct {
	Format  string        // FormatSlack (default) or FormatJSON
	Retries int           // extra attempts after the first; 0 sends once
	Timeout time.Duration // per request; 0 selects 10s
	Logger  *slog.Logger
}

// WebhookSink POSTs one JSON document per match result.
// It is safe for concurrent use; all deliveries share one pooled client.
type WebhookSink struct {
	url    string
	format string
	client *retryablehttp.Client
}

type slackPayload struct {
	Text string `json:"text"`
}

type jsonPayload struct {
	Domain   string   `json:"domain"`
	Patterns []string `json:"patterns"`
}

// NewWebhook creates a sink posting to url.
func NewWebhook(url string, opts WebhookOptions) (*WebhookSink, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	switch opts.Format {
	case "":
		opts.Format = FormatSlack
	case FormatSlack, FormatJSON:
	default:
		return nil, fmt.Errorf("unknown webhook format %q", opts.Format)
	}
	if opts.Retries < 0 {
		return nil, fmt.Errorf("webhook retries must not be negative")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = cleanhttp.DefaultPooledClient()
	client.HTTPClient.Timeout = opts.Timeout
	client.RetryMax = opts.Retries
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = logger.With("component", "webhook")
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.CheckRetry = checkRetry

	return &WebhookSink{url: url, format: opts.Format, client: client}, nil
}

// checkRetry retries network errors and 5xx responses. Every 4xx, 429
// included, is final.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() == nil && err == nil && resp != nil && resp.StatusCode < http.StatusInternalServerError {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Name implements Named.
func (w *WebhookSink) Name() string {
	return "webhook"
}

// Deliver implements Notifier. Any transport failure or non-2xx response is
// returned as a *DeliveryError.
func (w *WebhookSink) Deliver(ctx context.Context, result types.MatchResult) error {
	body, err := w.payload(result)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, body)
	if err != nil {
		return &DeliveryError{Sink: w.Name(), Domain: result.Domain, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return &DeliveryError{Sink: w.Name(), Domain: result.Domain, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{
			Sink:       w.Name(),
			Domain:     result.Domain,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}
	return nil
}

func (w *WebhookSink) payload(result types.MatchResult) ([]byte, error) {
	var v any
	switch w.format {
	case FormatJSON:
		v = jsonPayload{Domain: result.Domain, Patterns: result.Patterns}
	default:
		v = slackPayload{Text: result.Joined()}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook payload: %w", err)
	}
	return data, nil
}
