// Package proxy forwards authenticated completion requests to the provider,
// keeping the provider API key on the server.
package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-go-golems/chatsync/pkg/completion"
	"github.com/go-go-golems/chatsync/pkg/metrics"
	"github.com/go-go-golems/chatsync/pkg/security"
	"github.com/go-go-golems/chatsync/pkg/web"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const anthropicVersion = "2023-06-01"

type Settings struct {
	// Token is the bearer token clients must present.
	Token string `mapstructure:"token"`
	// APIKey is the provider key used upstream.
	APIKey           string        `mapstructure:"api-key"`
	UpstreamURL      string        `mapstructure:"upstream-url"`
	DefaultModel     string        `mapstructure:"default-model"`
	DefaultMaxTokens int           `mapstructure:"default-max-tokens"`
	UpstreamTimeout  time.Duration `mapstructure:"upstream-timeout"`

	AllowHTTP          bool `mapstructure:"allow-http"`
	AllowLocalNetworks bool `mapstructure:"allow-local-networks"`
}

// Request is the body clients send.
type Request struct {
	Messages  []completion.Message `json:"messages"`
	Model     string               `json:"model"`
	System    string               `json:"system"`
	MaxTokens int                  `json:"max_tokens"`
	Stream    bool                 `json:"stream"`
}

type Proxy struct {
	settings   Settings
	upstream   string
	httpClient *http.Client
	metrics    *metrics.Metrics
}

type Option func(*Proxy)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Proxy) {
		p.httpClient = c
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Proxy) {
		p.metrics = m
	}
}

func New(s Settings, options ...Option) (*Proxy, error) {
	if s.UpstreamURL == "" {
		s.UpstreamURL = completion.DefaultBaseURL
	}
	if s.DefaultModel == "" {
		s.DefaultModel = completion.DefaultModel
	}
	if s.DefaultMaxTokens <= 0 {
		s.DefaultMaxTokens = completion.DefaultMaxTokens
	}
	upstream, err := security.NormalizeBaseURL(s.UpstreamURL, security.OutboundURLOptions{
		AllowHTTP:          s.AllowHTTP,
		AllowLocalNetworks: s.AllowLocalNetworks,
	})
	if err != nil {
		return nil, errors.Wrap(err, "invalid upstream URL")
	}

	p := &Proxy{
		settings: s,
		upstream: upstream,
		// no overall timeout, streams are long lived
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: s.UpstreamTimeout,
			},
		},
	}
	for _, o := range options {
		o(p)
	}
	return p, nil
}

func (p *Proxy) Handler() http.Handler {
	r := web.NewEngine(p.metrics)
	r.POST("/v1/messages", p.handleMessages)
	r.POST("/", p.handleMessages)
	return r
}

func (p *Proxy) fail(c *gin.Context, status int, msg string) {
	p.count(status)
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func (p *Proxy) count(status int) {
	if p.metrics != nil {
		p.metrics.ProxyRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	}
}

func (p *Proxy) handleMessages(c *gin.Context) {
	token, _ := web.BearerToken(c)
	if !web.TokenEqual(token, p.settings.Token) {
		p.fail(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if p.settings.APIKey == "" {
		log.Error().Msg("Proxy has no provider API key configured")
		p.fail(c, http.StatusInternalServerError, "Server configuration error")
		return
	}

	var req Request
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		p.fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		p.fail(c, http.StatusBadRequest, "messages must be a non-empty array")
		return
	}
	for _, m := range req.Messages {
		if !m.Role.Valid() {
			p.fail(c, http.StatusBadRequest, "invalid message role "+strconv.Quote(string(m.Role)))
			return
		}
	}

	body := completion.MessageRequest{
		Model:     req.Model,
		Messages:  req.Messages,
		System:    req.System,
		MaxTokens: req.MaxTokens,
		Stream:    req.Stream,
	}
	if body.Model == "" {
		body.Model = p.settings.DefaultModel
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = p.settings.DefaultMaxTokens
	}
	payload, err := json.Marshal(body)
	if err != nil {
		p.fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	upReq, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, p.upstream+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		p.fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	upReq.Header.Set("Content-Type", "application/json")
	upReq.Header.Set("x-api-key", p.settings.APIKey)
	upReq.Header.Set("anthropic-version", anthropicVersion)

	start := time.Now()
	// #nosec G107 -- upstream URL is validated in New.
	resp, err := p.httpClient.Do(upReq)
	if p.metrics != nil {
		p.metrics.ProxyUpstreamDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		log.Warn().Err(err).Msg("Upstream request failed")
		p.fail(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		log.Warn().Int("upstream_status", resp.StatusCode).Str("body", string(detail)).Msg("Upstream returned an error")
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			p.fail(c, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
		case 529, http.StatusServiceUnavailable:
			p.fail(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
		default:
			p.fail(c, http.StatusInternalServerError, "Upstream request failed")
		}
		return
	}

	p.count(http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		c.Header("Content-Type", ct)
	}
	if req.Stream {
		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no")
	}
	c.Status(http.StatusOK)
	if err := copyFlushing(c.Writer, resp.Body); err != nil {
		// headers are gone, the client sees a truncated stream
		log.Warn().Err(err).Msg("Relaying upstream response failed")
	}
}

// copyFlushing copies src to w, flushing after every read so streamed events
// reach the client without buffering.
func copyFlushing(w gin.ResponseWriter, src io.Reader) error {
	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			w.Flush()
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
