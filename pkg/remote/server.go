package remote

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/metrics"
	"github.com/go-go-golems/chatsync/pkg/web"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Server exposes a Backend over REST.
type Server struct {
	backend Backend
	apiKey  string
	metrics *metrics.Metrics
}

type ServerOption func(*Server)

// WithAPIKey requires every /v1 request to present key, either in the apikey
// header or as a bearer token.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

func WithServerMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

func NewServer(backend Backend, options ...ServerOption) *Server {
	s := &Server{backend: backend}
	for _, o := range options {
		o(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := web.NewEngine(s.metrics)

	v1 := r.Group("/v1")
	if s.apiKey != "" {
		v1.Use(s.authenticate)
	}
	v1.GET("/conversations", s.listConversations)
	v1.POST("/conversations", s.createConversation)
	v1.PATCH("/conversations/:id", s.updateConversation)
	v1.DELETE("/conversations/:id", s.deleteConversation)
	v1.POST("/conversations/:id/messages", s.appendMessage)

	return r
}

func (s *Server) authenticate(c *gin.Context) {
	token := c.GetHeader("apikey")
	if token == "" {
		token, _ = web.BearerToken(c)
	}
	if !web.TokenEqual(token, s.apiKey) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.Next()
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		status = http.StatusBadRequest
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Backend call failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func (s *Server) listConversations(c *gin.Context) {
	convs, err := s.backend.ListConversations(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": convs})
}

func (s *Server) createConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.Wrap(ErrInvalidInput, err.Error()))
		return
	}
	if req.Title == "" {
		req.Title = chat.DefaultConversationTitle
	}
	id, err := s.backend.CreateConversation(c.Request.Context(), req.Title)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": createConversationResponse{ID: id}})
}

func (s *Server) updateConversation(c *gin.Context) {
	var req updateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.Wrap(ErrInvalidInput, err.Error()))
		return
	}
	if err := s.backend.UpdateConversationTitle(c.Request.Context(), c.Param("id"), req.Title); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteConversation(c *gin.Context) {
	if err := s.backend.DeleteConversation(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) appendMessage(c *gin.Context) {
	var msg chat.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		s.fail(c, errors.Wrap(ErrInvalidInput, err.Error()))
		return
	}
	if err := s.backend.AppendMessage(c.Request.Context(), c.Param("id"), msg); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusCreated)
}
