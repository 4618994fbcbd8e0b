// Package mmio sends multimodal requests to Gemini: analysing images, audio,
// video and documents, generating images and videos, transcribing media and
// converting documents to markdown, JSON or plain text.
package mmio

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/gemini-kit/gk/pkg/config"
	"github.com/gemini-kit/gk/pkg/envfile"
	"github.com/gemini-kit/gk/pkg/logger"
)

// API key environment variables, in lookup order.
const (
	APIKeyEnv       = "GEMINI_API_KEY"
	GoogleAPIKeyEnv = "GOOGLE_API_KEY"
)

const (
	defaultAttempts   = 3
	defaultRetryDelay = time.Second
	defaultFilePoll   = time.Second
	defaultThreshold  = 15
)

// ResolveAPIKey returns the configured key, then $GEMINI_API_KEY, then
// $GOOGLE_API_KEY.
func ResolveAPIKey(configured string) (string, error) {
	for _, key := range []string{configured, os.Getenv(APIKeyEnv), os.Getenv(GoogleAPIKeyEnv)} {
		if key = strings.TrimSpace(key); key != "" {
			return key, nil
		}
	}
	return "", ErrNoAPIKey
}

// ExtensionDir is the directory of the installed multimodal extension,
// whose .env has the highest precedence.
func ExtensionDir(homeDir string) string {
	return filepath.Join(homeDir, ".gemini", "extensions", "multimodal-io")
}

// LoadEnv applies the .env hierarchy for workDir to the process environment
// and returns the keys it exported.
func LoadEnv(ctx context.Context, workDir string) []string {
	homeDir, _ := os.UserHomeDir()
	opts := envfile.HierarchyOptions{HomeDir: homeDir, WorkDir: workDir}
	if homeDir != "" {
		opts.ExtensionDir = ExtensionDir(homeDir)
	}
	applied := envfile.Apply(envfile.LoadHierarchy(opts))
	logger.G(ctx).WithField("keys", len(applied)).Debug("applied .env hierarchy")
	return applied
}

type clientOptions struct {
	httpClient *http.Client
	baseURL    string
	attempts   uint
	retryDelay time.Duration
	filePoll   time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(url string) ClientOption {
	return func(o *clientOptions) { o.baseURL = url }
}

// WithRetry sets the number of attempts for transient failures and the
// initial back-off delay.
func WithRetry(attempts uint, delay time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.attempts = attempts
		o.retryDelay = delay
	}
}

// WithFilePollInterval sets how often an uploaded file is polled while the
// service is still processing it.
func WithFilePollInterval(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.filePoll = d }
}

// Client wraps a genai client with the multimodal defaults from config.
type Client struct {
	genai      *genai.Client
	cfg        config.MMIOConfig
	attempts   uint
	retryDelay time.Duration
	filePoll   time.Duration
	now        func() time.Time
}

// NewClient creates a Gemini API client. The API key is resolved with
// ResolveAPIKey.
func NewClient(ctx context.Context, cfg config.MMIOConfig, opts ...ClientOption) (*Client, error) {
	o := clientOptions{attempts: defaultAttempts, retryDelay: defaultRetryDelay, filePoll: defaultFilePoll}
	for _, opt := range opts {
		opt(&o)
	}

	apiKey, err := ResolveAPIKey(cfg.APIKey)
	if err != nil {
		return nil, err
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: o.httpClient,
	}
	if o.baseURL != "" {
		clientConfig.HTTPOptions.BaseURL = o.baseURL
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Google GenAI client")
	}

	if cfg.FileAPIThresholdMB <= 0 {
		cfg.FileAPIThresholdMB = defaultThreshold
	}
	if o.attempts == 0 {
		o.attempts = 1
	}

	return &Client{
		genai:      client,
		cfg:        cfg,
		attempts:   o.attempts,
		retryDelay: o.retryDelay,
		filePoll:   o.filePoll,
		now:        time.Now,
	}, nil
}

// Config returns the multimodal settings the client was created with.
func (c *Client) Config() config.MMIOConfig {
	return c.cfg
}

func (c *Client) useFileAPI(size int) bool {
	return size > c.cfg.FileAPIThresholdMB*1024*1024
}

// call runs fn, retrying transient server failures with back-off.
func (c *Client) call(ctx context.Context, operation string, fn func() error) error {
	err := retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).WithField("attempt", n+1).Warn("retrying Gemini API call")
		}),
	)
	return classify(err, operation)
}

func isTransient(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
