package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/security"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type envelope struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

type createConversationRequest struct {
	Title string `json:"title"`
}

type createConversationResponse struct {
	ID string `json:"id"`
}

type updateConversationRequest struct {
	Title string `json:"title"`
}

// Client talks to a chatsync store server, or anything speaking the same
// REST protocol.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

func NewClient(baseURL, apiKey string, urlOpts security.OutboundURLOptions, options ...ClientOption) (*Client, error) {
	normalized, err := security.NormalizeBaseURL(baseURL, urlOpts)
	if err != nil {
		return nil, errors.Wrap(err, "invalid remote backend URL")
	}
	c := &Client{
		httpClient: &http.Client{},
		baseURL:    normalized,
		apiKey:     apiKey,
	}
	for _, o := range options {
		o(c)
	}
	return c, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "creating request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	// #nosec G107 -- base URL is validated in NewClient.
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return errors.Wrap(err, "reading response")
	}

	var env envelope
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &env); err != nil && resp.StatusCode < 300 {
			return errors.Wrap(err, "decoding response")
		}
	}

	if resp.StatusCode >= 300 {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("Remote backend call failed")
		return &Error{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if len(env.Data) == 0 {
			return errors.New("response carries no data")
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.Wrap(err, "decoding response data")
		}
	}
	return nil
}

func conversationPath(id string) string {
	return "/v1/conversations/" + url.PathEscape(id)
}

func (c *Client) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var ret []chat.Conversation
	if err := c.do(ctx, http.MethodGet, "/v1/conversations", nil, &ret); err != nil {
		return nil, err
	}
	for i := range ret {
		if ret[i].Messages == nil {
			ret[i].Messages = []chat.Message{}
		}
	}
	return ret, nil
}

func (c *Client) CreateConversation(ctx context.Context, title string) (string, error) {
	var resp createConversationResponse
	if err := c.do(ctx, http.MethodPost, "/v1/conversations", createConversationRequest{Title: title}, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New("remote backend returned an empty conversation id")
	}
	return resp.ID, nil
}

func (c *Client) UpdateConversationTitle(ctx context.Context, id, title string) error {
	return c.do(ctx, http.MethodPatch, conversationPath(id), updateConversationRequest{Title: title}, nil)
}

func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, conversationPath(id), nil, nil)
}

func (c *Client) AppendMessage(ctx context.Context, conversationID string, message chat.Message) error {
	return c.do(ctx, http.MethodPost, conversationPath(conversationID)+"/messages", message, nil)
}

var _ Backend = &Client{}
