package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	bluebonnet "github.com/lonestar-labs/bluebonnet"
)

type chatRequest struct {
	Question      string          `json:"question"`
	SessionID     string          `json:"session_id"`
	RetrievalMode string          `json:"retrieval_mode"`
	Models        *modelOverrides `json:"models"`
	Debug         bool            `json:"debug"`
}

type modelOverrides struct {
	Provider      string `json:"provider"`
	LLMModel      string `json:"llm_model"`
	RerankerModel string `json:"reranker_model"`
	IntentModel   string `json:"intent_model"`
}

type chatResponse struct {
	Answer            string                   `json:"answer"`
	Sources           []bluebonnet.CitedSource `json:"sources"`
	ResponseType      string                   `json:"response_type"`
	ProcessingTime    float64                  `json:"processing_time"`
	SessionID         string                   `json:"session_id"`
	Timestamp         string                   `json:"timestamp"`
	ReformulatedQuery *string                  `json:"reformulated_query,omitempty"`
	TurnCount         *int                     `json:"turn_count,omitempty"`
	Debug             []bluebonnet.DebugRecord `json:"debug,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_argument", Message: "malformed request body: " + err.Error()})
		return
	}

	askReq := bluebonnet.Request{
		Question: req.Question,
		ThreadID: req.SessionID,
		Debug:    req.Debug,
	}
	if req.RetrievalMode != "" {
		mode, err := bluebonnet.ParseRetrievalMode(req.RetrievalMode)
		if err != nil {
			writeError(c, err)
			return
		}
		askReq.Mode = mode
	}
	if req.Models != nil {
		if err := s.applyOverrides(&askReq, req.Models); err != nil {
			writeError(c, err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.requestTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.bot.Ask(ctx, askReq)
	elapsed := time.Since(start)
	if err != nil {
		s.logger.Error("http: chat failed", "error", err, "elapsed", elapsed)
		writeError(c, err)
		return
	}

	out := chatResponse{
		Answer:         resp.Answer,
		Sources:        resp.Sources,
		ResponseType:   string(resp.ResponseType),
		ProcessingTime: elapsed.Seconds(),
		SessionID:      resp.ThreadID,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		Debug:          resp.Debug,
	}
	if out.Sources == nil {
		out.Sources = []bluebonnet.CitedSource{}
	}
	if s.bot.Conversational() {
		out.ReformulatedQuery = &resp.ReformulatedQuery
		out.TurnCount = &resp.TurnCount
	}
	c.JSON(http.StatusOK, out)
}

// applyOverrides resolves the request's model overrides into providers. The
// named provider serves all overridden roles; roles without a model keep the
// configured default.
func (s *Server) applyOverrides(askReq *bluebonnet.Request, m *modelOverrides) error {
	if s.resolver == nil {
		return &bluebonnet.ErrInvalidArgument{Field: "models", Reason: "per-request model overrides are not enabled"}
	}
	var err error
	if m.LLMModel != "" {
		if askReq.Generator, err = s.resolver(bluebonnet.RoleGenerator, m.Provider, m.LLMModel); err != nil {
			return err
		}
	}
	if m.RerankerModel != "" {
		if askReq.Reranker, err = s.resolver(bluebonnet.RoleReranker, m.Provider, m.RerankerModel); err != nil {
			return err
		}
	}
	if m.IntentModel != "" {
		if askReq.Intent, err = s.resolver(bluebonnet.RoleIntent, m.Provider, m.IntentModel); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "ok"
	var errMsg *string
	initialized := s.bot != nil
	if !initialized {
		status = "error"
		msg := "chatbot not initialized"
		errMsg = &msg
	}
	c.JSON(http.StatusOK, gin.H{
		"status":              status,
		"chatbot_initialized": initialized,
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
		"error":               errMsg,
	})
}

// writeError maps pipeline errors onto the wire contract.
func writeError(c *gin.Context, err error) {
	var (
		invalid  *bluebonnet.ErrInvalidArgument
		mismatch *bluebonnet.ErrConfigMismatch
		upstream *bluebonnet.ErrUpstream
		parse    *bluebonnet.ErrParse
	)
	switch {
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_argument", Message: invalid.Error()})
	case errors.As(err, &mismatch):
		c.JSON(http.StatusConflict, errorResponse{Error: "config_mismatch", Message: mismatch.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, errorResponse{Error: "deadline_exceeded", Message: "request deadline exceeded"})
	case errors.As(err, &upstream):
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "upstream_unavailable", Message: upstream.Error()})
	case errors.As(err, &parse):
		c.JSON(http.StatusBadGateway, errorResponse{Error: "provider_error", Message: parse.Error()})
	default:
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal", Message: err.Error()})
	}
}
