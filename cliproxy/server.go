package cliproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/relaygate/core/gatewayerr"
	"github.com/relaygate/core/message"
	"github.com/relaygate/core/observability"
)

// Server is the CLI-subprocess proxy's HTTP surface: POST
// /v1/chat/completions and GET /health. Grounded on server/server.go's
// mux and sendJSON/sendError response pattern, generalized from
// workflow-management endpoints to chat-completions.
type Server struct {
	cfg     Config
	limiter Limiter
	hooks   *observability.Hooks
	metrics *observability.Metrics
	mux     *http.ServeMux
}

// NewServer builds a Server ready to ListenAndServe (or be mounted into a
// larger mux). limiter/hooks/metrics may be nil.
func NewServer(cfg Config, limiter Limiter, hooks *observability.Hooks, metrics *observability.Metrics) *Server {
	s := &Server{cfg: cfg, limiter: limiter, hooks: hooks, metrics: metrics, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// chatCompletionRequest is the wire shape this endpoint accepts: a
// provider-agnostic chat request plus the CLI submodel selector.
type chatCompletionRequest struct {
	Submodel      string          `json:"submodel"`
	Messages      []wireMessage   `json:"messages"`
	SystemPrompt  string          `json:"system_prompt,omitempty"`
	MCPConfig     *message.ToolConfig `json:"mcp_config,omitempty"`
	MCPConfigYAML string          `json:"mcp_config_yaml,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Content      string         `json:"content"`
	Provider     string         `json:"provider"`
	Model        string         `json:"model"`
	FinishReason string         `json:"finish_reason"`
	Usage        *wireUsage     `json:"usage,omitempty"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type errorBody struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := uuid.NewString()

	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, gatewayerr.KindBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Submodel == "" {
		sendError(w, http.StatusBadRequest, gatewayerr.KindBadRequest, "submodel is required")
		return
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, req.Submodel)
		if err != nil {
			sendError(w, http.StatusInternalServerError, gatewayerr.KindInternal, fmt.Sprintf("rate limiter error: %v", err))
			return
		}
		if !allowed {
			sendError(w, http.StatusTooManyRequests, gatewayerr.KindRateLimit, "rate limit exceeded for submodel")
			return
		}
	}

	resp, gerr := s.complete(ctx, req, requestID)
	if gerr != nil {
		sendError(w, statusForKind(gerr.Kind), gerr.Kind, gerr.Error())
		return
	}
	sendJSON(w, http.StatusOK, resp)
}

// complete runs the full request-handling sequence described in spec.md
// §4.5: scratch dir, tool config materialization, argv construction,
// subprocess spawn, stream parse, cleanup.
func (s *Server) complete(ctx context.Context, req chatCompletionRequest, requestID string) (*chatCompletionResponse, *gatewayerr.Error) {
	scratchDir, cleanup, err := acquireScratchDir(s.cfg.ScratchRoot)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindInternal, "failed to acquire scratch directory", err)
	}
	defer cleanup()

	mcpConfig := req.MCPConfig
	if mcpConfig == nil && req.MCPConfigYAML != "" {
		decoded, err := decodeToolConfig(req.MCPConfigYAML)
		if err != nil {
			return nil, gatewayerr.Wrap(gatewayerr.KindInternal, "failed to decode tool config", err)
		}
		mcpConfig = decoded
	}
	toolConfigPath, err := materializeToolConfig(scratchDir, mcpConfig, s.cfg.DefaultToolConfigJSON)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindInternal, "failed to write tool config", err)
	}

	prompt, systemPrompt := flattenMessages(req.Messages, req.SystemPrompt)
	argv, err := buildArgv(s.cfg, req.Submodel, prompt, systemPrompt, toolConfigPath)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindBadRequest, "failed to build CLI argument vector", err)
	}

	result, err := runSubprocess(ctx, s.cfg, scratchDir, argv, s.hooks, s.metrics, requestID)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindInternal, "failed to run CLI subprocess", err)
	}
	if result.timedOut {
		return nil, gatewayerr.New(gatewayerr.KindTimeout, "CLI subprocess exceeded its wall-clock timeout")
	}

	finishReason := "stop"
	if result.exitCode != 0 {
		finishReason = "error"
	}

	resp := &chatCompletionResponse{
		Content:      result.outcome.Content(),
		Provider:     "cli",
		Model:        req.Submodel,
		FinishReason: finishReason,
	}

	if result.exitCode != 0 {
		return nil, gatewayerr.New(gatewayerr.KindProviderUnavailable, fmt.Sprintf("CLI exited %d: %s", result.exitCode, result.stderr))
	}
	return resp, nil
}

func flattenMessages(msgs []wireMessage, systemPrompt string) (prompt, system string) {
	system = systemPrompt
	var userParts []string
	for _, m := range msgs {
		switch m.Role {
		case "system":
			if system == "" {
				system = m.Content
			}
		default:
			userParts = append(userParts, m.Content)
		}
	}
	return strings.Join(userParts, "\n\n"), system
}

func statusForKind(kind gatewayerr.Kind) int {
	switch kind {
	case gatewayerr.KindBadRequest:
		return http.StatusBadRequest
	case gatewayerr.KindAuth:
		return http.StatusUnauthorized
	case gatewayerr.KindRateLimit:
		return http.StatusTooManyRequests
	case gatewayerr.KindTimeout:
		return http.StatusGatewayTimeout
	case gatewayerr.KindProviderUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func sendError(w http.ResponseWriter, status int, kind gatewayerr.Kind, detail string) {
	sendJSON(w, status, errorBody{Kind: string(kind), Detail: detail})
}
