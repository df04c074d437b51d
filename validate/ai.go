package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relaygate/core/llm"
	"github.com/relaygate/core/message"
)

// Caller is the narrow capability AI-assisted validators receive instead of
// a raw HTTP client: it lets validation issue its own LLM call through the
// orchestrator, so the depth guard and credentials stay centralized
// (spec.md §4.3, §9 "Recursive LLM calls from validators").
type Caller func(ctx context.Context, cfg message.CallConfig) (*llm.Response, error)

type callerCtxKey struct{}
type depthCtxKey struct{}

// DefaultMaxDepth bounds how many nested AI-assisted validator calls a
// single outer call may trigger before the guard fails the validator (not
// the outer call).
const DefaultMaxDepth = 3

// WithCaller attaches the orchestrator's call capability to ctx.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerCtxKey{}, caller)
}

// CallerFromContext retrieves the caller capability, if any.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerCtxKey{}).(Caller)
	return c, ok
}

func depthOf(ctx context.Context) int {
	d, _ := ctx.Value(depthCtxKey{}).(int)
	return d
}

func withIncrementedDepth(ctx context.Context) context.Context {
	return context.WithValue(ctx, depthCtxKey{}, depthOf(ctx)+1)
}

// aiEnvelope is the mandatory JSON shape an AI-assisted validator's own
// call must return.
type aiEnvelope struct {
	ValidationPassed bool     `json:"validation_passed"`
	Confidence       float64  `json:"confidence"`
	Reasoning        string   `json:"reasoning"`
	Suggestions      []string `json:"suggestions"`
}

func renderTemplate(tmpl string, vctx Context, textToValidate string) string {
	out := strings.ReplaceAll(tmpl, "{TEXT_TO_VALIDATE}", textToValidate)
	out = strings.ReplaceAll(out, "{ORIGINAL_USER_PROMPT}", vctx.OriginalUserPrompt)
	return out
}

func runAICheck(ctx context.Context, model, promptTemplate string, maxDepth int, resp *llm.Response, vctx Context) (ValidationResult, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if depthOf(ctx) >= maxDepth {
		return ValidationResult{Valid: false, Reasoning: "max recursion depth exceeded for AI-assisted validation"}, nil
	}
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return ValidationResult{Valid: false, Reasoning: "no call capability available for AI-assisted validation"}, nil
	}
	prompt := renderTemplate(promptTemplate, vctx, primaryText(resp))
	cfg := message.CallConfig{
		Model:          model,
		Question:       &prompt,
		ResponseFormat: &message.ResponseFormat{Kind: "json_object"},
	}
	callCtx := withIncrementedDepth(ctx)
	out, err := caller(callCtx, cfg)
	if err != nil {
		return ValidationResult{Valid: false, Reasoning: fmt.Sprintf("AI-assisted validation call failed: %v", err)}, nil
	}
	var env aiEnvelope
	if err := json.Unmarshal([]byte(strings.TrimSpace(out.Content)), &env); err != nil {
		return ValidationResult{Valid: false, Reasoning: fmt.Sprintf("AI-assisted validator response violated the required envelope: %v", err)}, nil
	}
	return ValidationResult{
		Valid:       env.ValidationPassed,
		Confidence:  env.Confidence,
		Reasoning:   env.Reasoning,
		Suggestions: env.Suggestions,
	}, nil
}

const defaultContradictionPrompt = "You are checking whether the following text contradicts the original request.\n" +
	"Original request: {ORIGINAL_USER_PROMPT}\n" +
	"Text to check: {TEXT_TO_VALIDATE}\n" +
	"Respond with a single JSON object: {\"validation_passed\": bool, \"confidence\": float, \"reasoning\": string, \"suggestions\": [string]}. " +
	"validation_passed is true iff the text does NOT contradict the original request."

// contradictionValidator implements ai_contradiction_check.
type contradictionValidator struct {
	model    string
	maxDepth int
}

func newContradictionValidator(params map[string]any) (Validator, error) {
	model, _ := params["model"].(string)
	maxDepth, _ := numParam(params, "max_depth")
	return &contradictionValidator{model: model, maxDepth: maxDepth}, nil
}

func (v *contradictionValidator) Name() string { return "ai_contradiction_check" }

func (v *contradictionValidator) Validate(ctx context.Context, resp *llm.Response, vctx Context) (ValidationResult, error) {
	return runAICheck(ctx, v.model, defaultContradictionPrompt, v.maxDepth, resp, vctx)
}

// agentTaskValidator implements agent_task: a generic AI-assisted check
// driven by a caller-supplied prompt template.
type agentTaskValidator struct {
	model          string
	maxDepth       int
	promptTemplate string
}

const defaultAgentTaskPrompt = "You are validating whether the following text satisfies this task: {ORIGINAL_USER_PROMPT}\n" +
	"Text to validate: {TEXT_TO_VALIDATE}\n" +
	"Respond with a single JSON object: {\"validation_passed\": bool, \"confidence\": float, \"reasoning\": string, \"suggestions\": [string]}."

func newAgentTaskValidator(params map[string]any) (Validator, error) {
	model, _ := params["model"].(string)
	maxDepth, _ := numParam(params, "max_depth")
	tmpl, _ := params["prompt_template"].(string)
	if tmpl == "" {
		tmpl = defaultAgentTaskPrompt
	}
	return &agentTaskValidator{model: model, maxDepth: maxDepth, promptTemplate: tmpl}, nil
}

func (v *agentTaskValidator) Name() string { return "agent_task" }

func (v *agentTaskValidator) Validate(ctx context.Context, resp *llm.Response, vctx Context) (ValidationResult, error) {
	return runAICheck(ctx, v.model, v.promptTemplate, v.maxDepth, resp, vctx)
}
