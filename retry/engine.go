// Package retry implements the staged retry state machine: stage selection
// (plain / tool-augmented / human-review), the circuit breaker, exponential
// backoff with jitter, and validator-feedback injection. Grounded on
// llm/retry.go's Retrier.Do backoff loop, generalized from "retry a fn" to
// the full staged machine, and on worker/worker.go's per-attempt result
// bookkeeping style.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/relaygate/core/diagnostics"
	"github.com/relaygate/core/gatewayerr"
	"github.com/relaygate/core/llm"
	"github.com/relaygate/core/message"
	"github.com/relaygate/core/observability"
	"github.com/relaygate/core/validate"
)

// Config is the staged engine's tuning surface, kept as an alias to the
// message package's type so CallConfig.RetryConfig can be passed straight
// through without copying.
type Config = message.RetryConfig

// AttemptFunc performs one provider invocation (HTTP_PROVIDER or CLI_PROXY)
// for the given per-attempt CallConfig. It must classify any failure into
// a *gatewayerr.Error before returning.
type AttemptFunc func(ctx context.Context, cfg message.CallConfig) (*llm.Response, error)

const (
	stagePlain         = "plain"
	stageToolAugmented = "tool_augmented"
	stageHumanReview   = "human_review"
)

// Engine runs the staged retry loop for a single call. One Engine may be
// shared across many concurrent calls to the same binding; its breaker
// state is keyed per binding internally.
type Engine struct {
	breakers *BreakerRegistry
	hooks    *observability.Hooks
	metrics  *observability.Metrics
	rng      *rand.Rand
}

// NewEngine constructs an Engine backed by the given breaker registry.
// hooks/metrics may be nil.
func NewEngine(breakers *BreakerRegistry, hooks *observability.Hooks, metrics *observability.Metrics) *Engine {
	if breakers == nil {
		breakers = NewBreakerRegistry(nil)
	}
	return &Engine{breakers: breakers, hooks: hooks, metrics: metrics, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Run drives the state machine described in spec.md §4.4: prepare -> invoke
// -> classify -> (done | feedback -> prepare), honoring stage thresholds,
// the circuit breaker, backoff, and cancellation at every suspension
// point.
func (e *Engine) Run(ctx context.Context, binding string, cfg message.CallConfig, attemptFn AttemptFunc, validators []validate.Validator) (*llm.Response, *gatewayerr.Error) {
	rc := cfg.RetryConfig
	maxAttempts := rc.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	toolThreshold := rc.MaxAttemptsBeforeTool
	if toolThreshold <= 0 {
		toolThreshold = maxAttempts + 1
	}
	humanThreshold := rc.MaxAttemptsBeforeHuman
	if humanThreshold <= 0 {
		humanThreshold = maxAttempts + 1
	}
	breakerCfg := message.CircuitBreakerConfig{}
	if rc.CircuitBreaker != nil {
		breakerCfg = *rc.CircuitBreaker
	}

	workingMessages := append([]message.Message(nil), cfg.Messages...)
	var attempts []gatewayerr.AttemptSummary
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i := 1; i <= maxAttempts; i++ {
		if cancelled(ctx) {
			gerr := gatewayerr.New(gatewayerr.KindCancelled, "cancelled before attempt")
			gerr.Attempts = attempts
			return nil, gerr
		}

		if i >= humanThreshold {
			gerr := gatewayerr.New(gatewayerr.KindHumanReviewRequired, "escalated to human review after exhausting automated stages")
			gerr.Attempts = attempts
			return nil, gerr
		}

		stage := stagePlain
		attemptCfg := cfg
		attemptCfg.Messages = workingMessages
		if i >= toolThreshold {
			stage = stageToolAugmented
			attemptCfg.MCPConfig = rc.DebugToolConfig
			attemptCfg.Messages = append(append([]message.Message(nil), workingMessages...), toolStageMessage(rc.DebugToolName))
		}

		now := time.Now()
		if !e.breakers.Allow(binding, breakerCfg, now) {
			attempts = append(attempts, gatewayerr.AttemptSummary{Attempt: i, Stage: stage, Kind: gatewayerr.KindCircuitOpen})
			e.safeBreakerMetric(binding)
			gerr := gatewayerr.New(gatewayerr.KindCircuitOpen, fmt.Sprintf("circuit breaker open for binding %q", binding))
			gerr.Attempts = attempts
			return nil, gerr
		}

		resp, invokeErr := attemptFn(ctx, attemptCfg)
		kind := gatewayerr.KindOf(invokeErr)
		e.breakers.Record(binding, breakerCfg, time.Now(), kind, invokeErr == nil)

		if invokeErr != nil {
			e.metrics.RecordRetryAttempt(stage, "error")
			if e.hooks != nil {
				e.hooks.SafeLLMRetry(ctx, binding, attemptCfg.Model, i, invokeErr)
			}
			if kind == gatewayerr.KindAuth {
				report := diagnostics.Diagnose(invokeErr, attemptCfg)
				gerr := gatewayerr.Wrap(gatewayerr.KindAuth, "authentication failed", invokeErr)
				gerr.Diagnostic = report
				gerr.Attempts = append(attempts, gatewayerr.AttemptSummary{Attempt: i, Stage: stage, Kind: gatewayerr.KindAuth, Error: invokeErr.Error()})
				return nil, gerr
			}

			attempts = append(attempts, gatewayerr.AttemptSummary{Attempt: i, Stage: stage, Kind: kind, Error: invokeErr.Error()})
			if i == maxAttempts {
				gerr := gatewayerr.Wrap(kind, "retry attempts exhausted", invokeErr)
				gerr.Attempts = attempts
				return nil, gerr
			}
			delay := computeDelay(rc, i, rng)
			attempts[len(attempts)-1].DelayTaken = delay
			if !sleep(delay, ctx.Done()) {
				gerr := gatewayerr.New(gatewayerr.KindCancelled, "cancelled during backoff")
				gerr.Attempts = attempts
				return nil, gerr
			}
			continue
		}

		vctx := validate.Context{OriginalUserPrompt: originalPrompt(cfg), Attempt: i, Stage: stage}
		outcome, verr := runValidators(ctx, validators, resp, vctx, rc.DebugMode)
		if verr != nil {
			gerr := gatewayerr.Wrap(gatewayerr.KindInternal, "validator invariant violation", verr)
			gerr.Attempts = append(attempts, gatewayerr.AttemptSummary{Attempt: i, Stage: stage, Error: verr.Error()})
			return nil, gerr
		}

		attempts = append(attempts, gatewayerr.AttemptSummary{Attempt: i, Stage: stage, Valid: outcome.valid, Reasoning: strings.Join(outcome.reasonings, "; ")})
		result := "validation_failed"
		if outcome.valid {
			result = "success"
		}
		e.metrics.RecordRetryAttempt(stage, result)
		if outcome.valid {
			return resp, nil
		}

		if i == maxAttempts {
			gerr := gatewayerr.New(gatewayerr.KindValidationFailed, "validators failed on final attempt")
			gerr.Attempts = attempts
			return nil, gerr
		}

		workingMessages = append(workingMessages, buildFeedbackMessage(i, outcome, stage, rc.DebugToolName))
		delay := computeDelay(rc, i, rng)
		attempts[len(attempts)-1].DelayTaken = delay
		if !sleep(delay, ctx.Done()) {
			gerr := gatewayerr.New(gatewayerr.KindCancelled, "cancelled during backoff")
			gerr.Attempts = attempts
			return nil, gerr
		}
	}

	gerr := gatewayerr.New(gatewayerr.KindInternal, "retry loop exited without resolution")
	gerr.Attempts = attempts
	return nil, gerr
}

func (e *Engine) safeBreakerMetric(binding string) {
	if e.metrics != nil {
		e.metrics.BreakerState.WithLabelValues(binding).Set(2)
	}
}

func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func toolStageMessage(toolName string) message.Message {
	name := toolName
	if name == "" {
		name = "the configured debug tool"
	}
	return message.Message{Role: message.RoleUser, Content: fmt.Sprintf("Use %s to investigate and correct the previous response.", name)}
}

func originalPrompt(cfg message.CallConfig) string {
	if cfg.Question != nil {
		return *cfg.Question
	}
	for _, m := range cfg.Messages {
		if m.Role == message.RoleUser {
			return m.Content
		}
	}
	return ""
}
