package task

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/guseggert/sidecar/api"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// APIError is returned when the backend answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}

// Client talks to the backend's job API.
type Client struct {
	Logger     *zap.SugaredLogger
	HTTPClient *http.Client

	baseURL                  string
	retryMax                 int
	customizeRetryableClient func(*retryablehttp.Client)
}

type ClientOption func(c *Client)

func WithClientLogger(l *zap.SugaredLogger) ClientOption {
	return func(c *Client) {
		c.Logger = l.Named("task_client")
	}
}

// WithRetryMax sets how many times a request that never reached the backend is retried.
func WithRetryMax(n int) ClientOption {
	return func(c *Client) {
		c.retryMax = n
	}
}

func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) ClientOption {
	return func(c *Client) {
		c.customizeRetryableClient = f
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// NewClient builds a client for the backend at baseURL, e.g. http://127.0.0.1:7865.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		Logger:   defaultLogger.Named("task_client"),
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		retryMax: 3,
	}
	for _, opt := range opts {
		opt(c)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = c.retryMax
	retryClient.RetryWaitMin = 50 * time.Millisecond
	retryClient.RetryWaitMax = 500 * time.Millisecond
	retryClient.CheckRetry = retryUnsent
	retryClient.Logger = &logAdapter{SugaredLogger: c.Logger}

	if c.customizeRetryableClient != nil {
		c.customizeRetryableClient(retryClient)
	}

	c.HTTPClient = retryClient.StandardClient()
	return c
}

// retryUnsent retries transport errors only. A job submission that got any HTTP response was seen by the
// backend and must not be sent twice.
func retryUnsent(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return err != nil, nil
}

// BaseURL is the backend root the client was built for.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) prepReq(r *http.Request) {
	r.Header.Add("Content-Type", "application/json")
}

// Submit posts a job of the given kind and returns the task id the backend assigned.
func (c *Client) Submit(ctx context.Context, kind api.Kind, payload any) (api.TaskID, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshaling %s request: %w", kind, err)
	}

	var resp api.SubmitResponse
	err = c.post(ctx, kind.SubmitPath(), b, &resp)
	if err != nil {
		return 0, err
	}
	c.Logger.Debugw("submitted task", "Kind", kind, "TaskID", resp.TaskID)
	return resp.TaskID, nil
}

// Generate submits an image generation job.
func (c *Client) Generate(ctx context.Context, req api.GenerateRequest) (api.TaskID, error) {
	return c.Submit(ctx, api.KindGenerate, req)
}

// SendChat submits a chat job.
func (c *Client) SendChat(ctx context.Context, req api.ChatSendRequest) (api.TaskID, error) {
	return c.Submit(ctx, api.KindChat, req)
}

// Stop asks the backend to stop whatever job of the given kind it is running.
func (c *Client) Stop(ctx context.Context, kind api.Kind) error {
	return c.post(ctx, kind.StopPath(), []byte("{}"), nil)
}

func (c *Client) post(ctx context.Context, path string, body []byte, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	c.prepReq(httpReq)

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request to %s: %w", path, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		var body string
		b, err := io.ReadAll(httpResp.Body)
		if err != nil {
			body = fmt.Errorf("error reading body: %w", err).Error()
		} else {
			body = strings.TrimSpace(string(b))
		}
		return &APIError{StatusCode: httpResp.StatusCode, Body: body}
	}
	if out == nil {
		return nil
	}
	err = json.NewDecoder(httpResp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}
	return nil
}
