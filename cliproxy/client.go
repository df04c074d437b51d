package cliproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/relaygate/core/gatewayerr"
	"github.com/relaygate/core/llm"
	"github.com/relaygate/core/message"
)

// DefaultBaseURL is the CLI proxy's assumed address when not overridden
// (SPEC_FULL.md §9 Open Questions resolution).
const DefaultBaseURL = "http://127.0.0.1:8001"

// Client calls a running Server over HTTP, adapting the CLI_PROXY binding
// into the retry engine's AttemptFunc shape.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a Client pointed at baseURL (DefaultBaseURL if empty).
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{BaseURL: baseURL, HTTPClient: &http.Client{Timeout: 5 * time.Minute}}
}

// Complete sends cfg (already normalized and routed to submodel) to the
// proxy and returns a provider-neutral llm.Response, classifying any
// transport or proxy-reported failure into a *gatewayerr.Error.
func (c *Client) Complete(ctx context.Context, submodel string, cfg message.CallConfig) (*llm.Response, error) {
	wireMsgs := make([]wireMessage, 0, len(cfg.Messages))
	var systemPrompt string
	for _, m := range cfg.Messages {
		if m.Role == message.RoleSystem && systemPrompt == "" {
			systemPrompt = m.Content
			continue
		}
		wireMsgs = append(wireMsgs, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	reqBody := chatCompletionRequest{
		Submodel:     submodel,
		Messages:     wireMsgs,
		SystemPrompt: systemPrompt,
		MCPConfig:    cfg.MCPConfig,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindInternal, "failed to encode CLI proxy request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindInternal, "failed to build CLI proxy request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, gatewayerr.Wrap(gatewayerr.KindCancelled, "CLI proxy request cancelled", err)
		}
		return nil, gatewayerr.Wrap(gatewayerr.KindProviderUnavailable, "CLI proxy unreachable", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= http.StatusBadRequest {
		var eb errorBody
		if err := json.NewDecoder(httpResp.Body).Decode(&eb); err != nil {
			return nil, gatewayerr.New(gatewayerr.KindInternal, fmt.Sprintf("CLI proxy returned status %d with unreadable body", httpResp.StatusCode))
		}
		return nil, gatewayerr.New(gatewayerr.Kind(eb.Kind), eb.Detail)
	}

	var resp chatCompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindInternal, "failed to decode CLI proxy response", err)
	}

	out := &llm.Response{
		Content:      resp.Content,
		Provider:     resp.Provider,
		Model:        resp.Model,
		FinishReason: resp.FinishReason,
	}
	if resp.Usage != nil {
		out.Usage = &llm.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens, TotalTokens: resp.Usage.TotalTokens}
	}
	return out, nil
}
