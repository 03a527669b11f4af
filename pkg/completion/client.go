// Package completion talks to a Claude-compatible messages endpoint, either
// the provider itself or the chatsync proxy, and yields streamed text.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/security"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL    = "https://api.anthropic.com"
	DefaultModel      = "claude-3-5-sonnet-20241022"
	DefaultMaxTokens  = 1024
	defaultAPIVersion = "2023-06-01"
)

type AuthMode string

const (
	// AuthAPIKey sends the key in x-api-key, as the provider expects.
	AuthAPIKey AuthMode = "api-key"
	// AuthBearer sends the key as a bearer token, as the proxy expects.
	AuthBearer AuthMode = "bearer"
)

type Message struct {
	Role    chat.Role `json:"role"`
	Content string    `json:"content"`
}

// Request is the provider-neutral input of a completion.
type Request struct {
	Model     string
	Messages  []Message
	System    string
	MaxTokens int
}

// MessageRequest is the wire body of POST /v1/messages.
type MessageRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	System    string    `json:"system,omitempty"`
	MaxTokens int       `json:"max_tokens"`
	Stream    bool      `json:"stream"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// APIError is returned for non-200 responses.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("completion request failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("completion request failed with status %d (%s): %s", e.StatusCode, e.Type, e.Message)
}

type Client struct {
	httpClient *http.Client
	apiKey     string
	authMode   AuthMode
	baseURL    string
	apiVersion string
	model      string
	maxTokens  int
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

func WithAuthMode(mode AuthMode) ClientOption {
	return func(client *Client) {
		client.authMode = mode
	}
}

func WithAPIVersion(version string) ClientOption {
	return func(client *Client) {
		client.apiVersion = version
	}
}

func WithDefaultModel(model string) ClientOption {
	return func(client *Client) {
		client.model = model
	}
}

func WithDefaultMaxTokens(n int) ClientOption {
	return func(client *Client) {
		client.maxTokens = n
	}
}

// NewClient validates baseURL against urlOpts and returns a client.
func NewClient(baseURL, apiKey string, urlOpts security.OutboundURLOptions, options ...ClientOption) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	normalized, err := security.NormalizeBaseURL(baseURL, urlOpts)
	if err != nil {
		return nil, errors.Wrap(err, "invalid completion base URL")
	}
	c := &Client{
		httpClient: &http.Client{},
		apiKey:     apiKey,
		authMode:   AuthAPIKey,
		baseURL:    normalized,
		apiVersion: defaultAPIVersion,
		model:      DefaultModel,
		maxTokens:  DefaultMaxTokens,
	}
	for _, o := range options {
		o(c)
	}
	return c, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("anthropic-version", c.apiVersion)
	if c.apiKey == "" {
		return
	}
	switch c.authMode {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	default:
		req.Header.Set("x-api-key", c.apiKey)
	}
}

// Stream starts a streamed completion. The caller must Close the returned
// stream. The context bounds the whole stream, not just the request.
func (c *Client) Stream(ctx context.Context, req Request) (*Stream, error) {
	body := MessageRequest{
		Model:     req.Model,
		Messages:  req.Messages,
		System:    req.System,
		MaxTokens: req.MaxTokens,
		Stream:    true,
	}
	if body.Model == "" {
		body.Model = c.model
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = c.maxTokens
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encoding completion request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "creating completion request")
	}
	c.setHeaders(httpReq)

	log.Debug().
		Str("model", body.Model).
		Int("messages", len(body.Messages)).
		Bool("system", body.System != "").
		Msg("Starting completion stream")

	// #nosec G107 -- base URL is validated in NewClient.
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "sending completion request")
	}

	if resp.StatusCode != http.StatusOK {
		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)
		return nil, decodeAPIError(resp)
	}

	return newStream(resp.Body), nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(respBody) == 0 {
		return apiErr
	}

	var errorResp ErrorResponse
	if json.Unmarshal(respBody, &errorResp) == nil && errorResp.Error.Message != "" {
		apiErr.Type = errorResp.Error.Type
		apiErr.Message = errorResp.Error.Message
		return apiErr
	}
	// the proxy answers {"error":"..."}
	var flat struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(respBody, &flat) == nil && flat.Error != "" {
		apiErr.Message = flat.Error
	}
	return apiErr
}
