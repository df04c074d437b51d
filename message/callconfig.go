package message

import "time"

// ResponseFormat constrains how the model must shape its reply.
type ResponseFormat struct {
	Kind string `json:"kind"` // "text" | "json_object"
}

// ValidatorSpec names a validator and the parameters used to construct it.
// Resolved into a concrete validator by the validate package's Registry.
type ValidatorSpec struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// CircuitBreakerConfig configures the retry engine's per-binding breaker.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `json:"failure_threshold"`
	RecoveryTimeout    time.Duration `json:"recovery_timeout"`
	FailureWindow      time.Duration `json:"failure_window"`
	ExcludedErrorKinds []string      `json:"excluded_error_kinds,omitempty"`
}

// RetryConfig drives the staged retry state machine.
type RetryConfig struct {
	MaxAttempts            int                   `json:"max_attempts"`
	InitialDelay           time.Duration         `json:"initial_delay"`
	MaxDelay               time.Duration         `json:"max_delay"`
	BackoffFactor          float64               `json:"backoff_factor"`
	UseJitter              bool                  `json:"use_jitter"`
	JitterFraction         float64               `json:"jitter_fraction"`
	MaxAttemptsBeforeTool  int                    `json:"max_attempts_before_tool_use,omitempty"`
	MaxAttemptsBeforeHuman int                    `json:"max_attempts_before_human,omitempty"`
	DebugMode              bool                  `json:"debug_mode"`
	CircuitBreaker         *CircuitBreakerConfig `json:"circuit_breaker,omitempty"`
	DebugToolName          string                `json:"debug_tool_name,omitempty"`
	DebugToolConfig        *ToolConfig           `json:"debug_tool_config,omitempty"`
}

// DefaultRetryConfig mirrors the teacher's DefaultRetryConfig zero-fill
// convention (llm.DefaultRetryConfig), generalized to the staged machine.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   1 * time.Second,
		MaxDelay:       30 * time.Second,
		BackoffFactor:  2.0,
		UseJitter:      true,
		JitterFraction: 0.1,
	}
}

// ToolServer describes one MCP-style tool server entry.
type ToolServer struct {
	Command     string            `json:"command"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Description string            `json:"description,omitempty"`
	Version     string            `json:"version,omitempty"`
}

// ToolConfig is the opaque per-request tool-configuration object forwarded
// to the CLI-subprocess proxy and materialized as .tools.json.
type ToolConfig struct {
	Servers map[string]ToolServer `json:"servers"`
}

// DiagnosticFlags carries the diagnostic-related options on a CallConfig.
type DiagnosticFlags struct {
	// Disabled, when true, skips diagnosis of auth errors for this call.
	Disabled bool `json:"disabled,omitempty"`
}

// CallConfig is the provider-agnostic request accepted by the gateway.
type CallConfig struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages,omitempty"`
	Question       *string         `json:"question,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	// Params carries provider passthrough parameters (temperature,
	// max_tokens, stream, stop, ...) as an opaque bag; the router strips
	// internal keys before handing it to a provider.
	Params map[string]any `json:"params,omitempty"`

	Validation  []ValidatorSpec `json:"validation,omitempty"`
	RetryConfig RetryConfig     `json:"retry_config"`
	MCPConfig   *ToolConfig     `json:"mcp_config,omitempty"`
	Diagnostics DiagnosticFlags `json:"diagnostics,omitempty"`

	// WaitForCompletion, when explicitly false, routes the call through the
	// async polling manager instead of running synchronously (§4.6/§4.7).
	WaitForCompletion *bool `json:"wait_for_completion,omitempty"`
}

// Clone returns a deep-enough copy of cfg for the normalizer/retry engine to
// mutate without touching the caller's original (§3 Ownership).
func (c CallConfig) Clone() CallConfig {
	clone := c
	if c.Messages != nil {
		clone.Messages = make([]Message, len(c.Messages))
		for i, m := range c.Messages {
			mc := m
			if m.Parts != nil {
				mc.Parts = append([]Part(nil), m.Parts...)
			}
			clone.Messages[i] = mc
		}
	}
	if c.Params != nil {
		clone.Params = make(map[string]any, len(c.Params))
		for k, v := range c.Params {
			clone.Params[k] = v
		}
	}
	if c.Validation != nil {
		clone.Validation = append([]ValidatorSpec(nil), c.Validation...)
	}
	return clone
}
