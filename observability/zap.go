package observability

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// NewZapHooks builds the default Hooks implementation, logging each event
// through the given zap.Logger's sugared API as a message plus structured
// key/value fields; the logger's encoder decides the output format. A nil
// logger is replaced by zap's production logger.
func NewZapHooks(logger *zap.Logger) *Hooks {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	sugar := logger.Sugar()

	return &Hooks{
		Logf: func(_ context.Context, level string, msg string, fields map[string]any) {
			kv := make([]any, 0, len(fields)*2)
			for k, v := range fields {
				kv = append(kv, k, v)
			}
			switch level {
			case "debug":
				sugar.Debugw(msg, kv...)
			case "warn":
				sugar.Warnw(msg, kv...)
			case "error":
				sugar.Errorw(msg, kv...)
			default:
				sugar.Infow(msg, kv...)
			}
		},
		OnLLMRequest: func(_ context.Context, provider, model string, meta map[string]any) {
			sugar.Infow("llm request", "provider", provider, "model", model, "meta", meta)
		},
		OnLLMResponse: func(_ context.Context, provider, model string, latency time.Duration, meta map[string]any) {
			sugar.Infow("llm response", "provider", provider, "model", model, "latency_ms", latency.Milliseconds(), "meta", meta)
		},
		OnLLMRetry: func(_ context.Context, provider, model string, attempt int, err error) {
			sugar.Warnw("llm retry", "provider", provider, "model", model, "attempt", attempt, "error", err)
		},
		OnBreakerStateChange: func(_ context.Context, binding, from, to string) {
			sugar.Infow("breaker state change", "binding", binding, "from", from, "to", to)
		},
		OnTaskStatusChange: func(_ context.Context, taskID, from, to string) {
			sugar.Infow("task status change", "task_id", taskID, "from", from, "to", to)
		},
	}
}
