package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"timbal-cli/internal/util"

	"github.com/google/uuid"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	DefaultMaxRetries     = 2
	DefaultRetryBaseDelay = 500 * time.Millisecond
	DefaultRequestTimeout = 30 * time.Second

	maxErrorBodyBytes = 1 << 20
)

// CredentialSource supplies a session access token. It is consulted
// only when no explicit API key is configured.
type CredentialSource interface {
	AccessToken() string
}

// Options configures a Client.
type Options struct {
	BaseURL        string
	APIKey         string
	Credentials    CredentialSource
	MaxRetries     int
	RetryBaseDelay time.Duration
	RequestTimeout time.Duration // per attempt, buffered requests only
	Logger         *zap.Logger
}

// Client executes requests against the Timbal platform API. One retry
// policy covers the buffered, streaming, and multipart call sites:
// retry on timeout, network failure, or HTTP 5xx, with linear backoff.
type Client struct {
	baseURL   string
	apiKey    string
	creds     CredentialSource
	logger    *zap.Logger
	buffered  *retryablehttp.Client
	streaming *retryablehttp.Client
}

// NewClient builds a Client, applying defaults for unset options.
func NewClient(opts Options) *Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	buffered := newRetryClient(opts, opts.Logger)
	buffered.HTTPClient.Timeout = opts.RequestTimeout

	// The streaming client must not bound body reads; only the wait
	// for response headers is limited per attempt.
	streaming := newRetryClient(opts, opts.Logger)
	if transport, ok := http.DefaultTransport.(*http.Transport); ok {
		t := transport.Clone()
		t.ResponseHeaderTimeout = opts.RequestTimeout
		streaming.HTTPClient.Transport = t
	}

	return &Client{
		baseURL:   strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:    opts.APIKey,
		creds:     opts.Credentials,
		logger:    opts.Logger,
		buffered:  buffered,
		streaming: streaming,
	}
}

func newRetryClient(opts Options, logger *zap.Logger) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = opts.MaxRetries
	rc.RetryWaitMin = opts.RetryBaseDelay
	rc.RetryWaitMax = 30 * time.Second
	rc.Backoff = LinearBackoff
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Debug("retrying request",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("attempt", attempt))
		}
	}
	return rc
}

// LinearBackoff waits base×N before the Nth retry (1-based), capped
// at max. Deliberately linear, not exponential.
func LinearBackoff(base, max time.Duration, attemptNum int, _ *http.Response) time.Duration {
	d := base * time.Duration(attemptNum+1)
	if max > 0 && d > max {
		return max
	}
	return d
}

// checkRetry retries timeouts, network failures, and 5xx responses.
// Client errors (4xx) are terminal.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp != nil && resp.StatusCode >= http.StatusInternalServerError {
		return true, nil
	}
	return false, nil
}

func (c *Client) url(endpoint string) string {
	return c.baseURL + "/" + strings.TrimPrefix(endpoint, "/")
}

// authorize sets the bearer credential: explicit API key wins over
// the session token.
func (c *Client) authorize(header http.Header) {
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
		return
	}
	if c.creds != nil {
		if token := c.creds.AccessToken(); token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, payload []byte) (*retryablehttp.Request, error) {
	var body interface{}
	if payload != nil {
		body = payload
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.url(endpoint), body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
	c.authorize(req.Header)
	return req, nil
}

// Do executes a buffered JSON request and returns the response body.
func (c *Client) Do(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	payload, err := marshalBody(body)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, method, endpoint, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.buffered.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.apiError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return data, nil
}

// Stream executes a request and hands back the raw response body for
// incremental consumption. The caller owns closing it; cancelling ctx
// aborts in-flight reads.
func (c *Client) Stream(ctx context.Context, endpoint string, body any) (io.ReadCloser, error) {
	payload, err := marshalBody(body)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streaming.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, classifyTransportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, c.apiError(resp)
	}
	if resp.Body == nil {
		return nil, &Error{Kind: KindNoBody, Message: "streaming response has no body"}
	}
	return resp.Body, nil
}

// Upload executes a multipart request. The body is assembled into
// memory up front so retries can rewind it.
func (c *Client) Upload(ctx context.Context, endpoint, field, filename string, r io.Reader, extra map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for key, value := range extra {
		if err := w.WriteField(key, value); err != nil {
			return nil, err
		}
	}
	fw, err := w.CreateFormFile(field, filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.url(endpoint), buf.Bytes())
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Request-Id", uuid.NewString())
	c.authorize(req.Header)

	resp, err := c.buffered.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.apiError(resp)
	}
	return io.ReadAll(resp.Body)
}

// apiError converts a non-2xx response into a structured Error,
// extracting a machine code and message from the body best-effort and
// falling back to the HTTP status text.
func (c *Client) apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	apiErr := &Error{
		Kind:    KindAPI,
		Status:  resp.StatusCode,
		Message: http.StatusText(resp.StatusCode),
	}
	if gjson.ValidBytes(body) {
		apiErr.Detail = json.RawMessage(body)
		for _, path := range []string{"error.code", "code"} {
			if v := gjson.GetBytes(body, path); v.Exists() {
				apiErr.Code = v.String()
				break
			}
		}
		for _, path := range []string{"error.message", "message", "detail"} {
			if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.String() != "" {
				apiErr.Message = v.String()
				break
			}
		}
	}
	c.logger.Debug("api error response",
		zap.Int("status", apiErr.Status),
		zap.String("code", apiErr.Code),
		zap.String("message", util.RedactSecrets(apiErr.Message)))
	return apiErr
}

func marshalBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	return json.Marshal(body)
}
