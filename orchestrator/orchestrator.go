// Package orchestrator glues normalization, routing, the staged retry
// engine, and the async polling manager into the library surface callers
// actually use. Grounded on engine/engine.go's New(Config)
// constructor-validates-required-fields convention and server/server.go's
// request-handling glue, generalized from "run a workflow" to "run one
// CallConfig through the gateway."
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/relaygate/core/asyncmgr"
	"github.com/relaygate/core/cliproxy"
	"github.com/relaygate/core/gatewayerr"
	"github.com/relaygate/core/llm"
	"github.com/relaygate/core/message"
	"github.com/relaygate/core/observability"
	"github.com/relaygate/core/retry"
	"github.com/relaygate/core/router"
	"github.com/relaygate/core/validate"
)

// jsonStringValidatorType is auto-injected when a call requests a JSON
// object response and does not already validate its shape.
const jsonStringValidatorType = "json_string"

// Options configures an Orchestrator's optional behaviors.
type Options struct {
	// AutoInjectJSONValidator appends a json_string validator to calls with
	// ResponseFormat.Kind == "json_object" that don't already validate
	// their own JSON shape (SPEC_FULL.md §9 Open Question, default true).
	AutoInjectJSONValidator bool
}

// DefaultOptions matches the resolved Open Question: auto-injection on.
func DefaultOptions() Options {
	return Options{AutoInjectJSONValidator: true}
}

// Config is the constructor's required-and-optional collaborator set.
// HTTPClient serves the HTTP_PROVIDER binding; CLIClient serves CLI_PROXY.
// AsyncManager is optional: calls with wait_for_completion=false fail with
// a bad_request error if it is nil.
type Config struct {
	HTTPClient   llm.Client
	CLIClient    *cliproxy.Client
	Validators   *validate.Registry
	AsyncManager *asyncmgr.Manager
	Hooks        *observability.Hooks
	Metrics      *observability.Metrics
	ImageResolver message.ImageResolver
	Options      Options
}

// Orchestrator is the library's single entry point, constructed once at
// startup and shared across requests (spec.md §9 "no module-level
// globals").
type Orchestrator struct {
	httpClient   llm.Client
	cliClient    *cliproxy.Client
	validators   *validate.Registry
	asyncManager *asyncmgr.Manager
	hooks        *observability.Hooks
	metrics      *observability.Metrics
	imageResolver message.ImageResolver
	options      Options
	engine       *retry.Engine
	breakers     *retry.BreakerRegistry
}

// New validates cfg and constructs an Orchestrator. At least one of
// HTTPClient or CLIClient must be set since every call is routed to one of
// the two bindings.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.HTTPClient == nil && cfg.CLIClient == nil {
		return nil, fmt.Errorf("orchestrator: at least one of HTTPClient or CLIClient is required")
	}
	if cfg.Validators == nil {
		cfg.Validators = validate.NewDefaultRegistry()
	}
	if cfg.Options == (Options{}) {
		cfg.Options = DefaultOptions()
	}

	breakers := retry.NewBreakerRegistry(func(binding string, from, to retry.BreakerState) {
		if cfg.Hooks != nil {
			cfg.Hooks.SafeBreakerStateChange(context.Background(), binding, string(from), string(to))
		}
		if cfg.Metrics != nil {
			cfg.Metrics.BreakerState.WithLabelValues(binding).Set(float64(breakerStateValue(to)))
		}
	})

	return &Orchestrator{
		httpClient:    cfg.HTTPClient,
		cliClient:     cfg.CLIClient,
		validators:    cfg.Validators,
		asyncManager:  cfg.AsyncManager,
		hooks:         cfg.Hooks,
		metrics:       cfg.Metrics,
		imageResolver: cfg.ImageResolver,
		options:       cfg.Options,
		engine:        retry.NewEngine(breakers, cfg.Hooks, cfg.Metrics),
		breakers:      breakers,
	}, nil
}

// MakeRequest runs cfg synchronously through normalize -> route -> retry
// engine -> provider, returning the first valid response or a classified
// *gatewayerr.Error. Calls with WaitForCompletion explicitly false are
// rejected here; use Submit instead (spec.md §4.7).
func (o *Orchestrator) MakeRequest(ctx context.Context, cfg message.CallConfig) (*llm.Response, error) {
	if cfg.WaitForCompletion != nil && !*cfg.WaitForCompletion {
		return nil, gatewayerr.New(gatewayerr.KindBadRequest, "wait_for_completion=false requires Submit, not MakeRequest")
	}
	resp, gerr := o.run(ctx, cfg)
	if gerr != nil {
		return nil, gerr
	}
	return resp, nil
}

// run is the shared normalize -> route -> validate -> retry pipeline used
// by both MakeRequest and the async executor Submit schedules.
func (o *Orchestrator) run(ctx context.Context, cfg message.CallConfig) (*llm.Response, *gatewayerr.Error) {
	routed, err := router.Route(cfg)
	if err != nil {
		ge, _ := gatewayerr.As(err)
		return nil, ge
	}

	hint := message.BindingHTTPProvider
	if routed.Binding == router.BindingCLIProxy {
		hint = message.BindingCLIProxy
	}
	normalized, err := message.Normalize(cfg, hint, o.imageResolver)
	if err != nil {
		ge, _ := gatewayerr.As(err)
		return nil, ge
	}
	normalized.Params = routed.Params
	if routed.Binding == router.BindingHTTPProvider {
		o.attachBearerToken(&normalized)
	}

	specs := o.resolveValidatorSpecs(normalized)
	validators, err := o.validators.ResolveAll(specs)
	if err != nil {
		ge, _ := gatewayerr.As(err)
		return nil, ge
	}

	attemptFn, err := o.attemptFuncFor(routed)
	if err != nil {
		ge, _ := gatewayerr.As(err)
		return nil, ge
	}

	binding := string(routed.Binding)
	if routed.Binding == router.BindingCLIProxy {
		binding = binding + ":" + routed.Submodel
	}
	ctx = validate.WithCaller(ctx, o.MakeRequest)
	return o.engine.Run(ctx, binding, normalized, attemptFn, validators)
}

// resolveValidatorSpecs returns cfg's configured validators, auto-injecting
// a json_string check when the response format demands JSON and the caller
// didn't already validate its shape (SPEC_FULL.md §9).
func (o *Orchestrator) resolveValidatorSpecs(cfg message.CallConfig) []message.ValidatorSpec {
	specs := append([]message.ValidatorSpec(nil), cfg.Validation...)
	if !o.options.AutoInjectJSONValidator {
		return specs
	}
	if cfg.ResponseFormat == nil || cfg.ResponseFormat.Kind != "json_object" {
		return specs
	}
	for _, s := range specs {
		if s.Type == jsonStringValidatorType || s.Type == "json" {
			return specs
		}
	}
	return append(specs, message.ValidatorSpec{Type: jsonStringValidatorType})
}

// attemptFuncFor builds the retry engine's per-attempt invocation closure
// for the binding routed selected.
func (o *Orchestrator) attemptFuncFor(routed router.Result) (retry.AttemptFunc, error) {
	switch routed.Binding {
	case router.BindingCLIProxy:
		if o.cliClient == nil {
			return nil, gatewayerr.New(gatewayerr.KindBadRequest, "model requests the CLI proxy binding but no CLIClient is configured")
		}
		submodel := routed.Submodel
		return func(ctx context.Context, cfg message.CallConfig) (*llm.Response, error) {
			return o.cliClient.Complete(ctx, submodel, cfg)
		}, nil
	default:
		if o.httpClient == nil {
			return nil, gatewayerr.New(gatewayerr.KindBadRequest, "model requests the HTTP provider binding but no HTTPClient is configured")
		}
		return o.invokeHTTPProvider, nil
	}
}

// attachBearerToken copies the HTTP provider's live outgoing bearer token
// into cfg's params under an internal-only key so diagnostics.Diagnose can
// run its JWT clock-drift check against the token actually used for this
// request. router.Route already stripped any caller-supplied "_internal_"
// key before cfg reached here, so this never lets a caller spoof the value.
// The token never reaches the wire: invokeHTTPProvider builds llm.ChatRequest
// from cfg.Messages/Model only and never forwards cfg.Params.
func (o *Orchestrator) attachBearerToken(cfg *message.CallConfig) {
	src, ok := o.httpClient.(llm.BearerTokenSource)
	if !ok {
		return
	}
	token := src.BearerToken()
	if token == "" {
		return
	}
	if cfg.Params == nil {
		cfg.Params = make(map[string]any, 1)
	}
	cfg.Params["_internal_bearer_token"] = token
}

// invokeHTTPProvider adapts the provider-agnostic llm.Client interface to
// the retry engine's AttemptFunc shape, flattening message.CallConfig into
// llm.ChatRequest.
func (o *Orchestrator) invokeHTTPProvider(ctx context.Context, cfg message.CallConfig) (*llm.Response, error) {
	req := &llm.ChatRequest{Model: cfg.Model}
	for _, m := range cfg.Messages {
		if m.Role == message.RoleSystem && req.SystemPrompt == "" {
			req.SystemPrompt = m.Content
			continue
		}
		req.Messages = append(req.Messages, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	resp, err := o.httpClient.Chat(ctx, req)
	if err != nil {
		if ge, ok := gatewayerr.As(err); ok {
			return nil, ge
		}
		return nil, gatewayerr.Wrap(gatewayerr.KindProviderUnavailable, "provider request failed", err)
	}
	return resp, nil
}

// Submit schedules cfg on the async polling manager and returns its task
// ID immediately (spec.md §4.6/§4.7). Requires an AsyncManager.
func (o *Orchestrator) Submit(ctx context.Context, cfg message.CallConfig) (string, error) {
	if o.asyncManager == nil {
		return "", gatewayerr.New(gatewayerr.KindBadRequest, "async submission requires an AsyncManager")
	}
	return o.asyncManager.Submit(ctx, cfg)
}

// GetStatus returns a point-in-time view of an async task.
func (o *Orchestrator) GetStatus(ctx context.Context, taskID string) (asyncmgr.View, error) {
	if o.asyncManager == nil {
		return asyncmgr.View{}, gatewayerr.New(gatewayerr.KindBadRequest, "async status requires an AsyncManager")
	}
	return o.asyncManager.GetStatus(ctx, taskID)
}

// Wait suspends until taskID reaches a terminal status or timeout elapses.
func (o *Orchestrator) Wait(ctx context.Context, taskID string, timeoutSeconds *float64) (asyncmgr.View, error) {
	if o.asyncManager == nil {
		return asyncmgr.View{}, gatewayerr.New(gatewayerr.KindBadRequest, "async wait requires an AsyncManager")
	}
	return o.asyncManager.Wait(ctx, taskID, toDuration(timeoutSeconds))
}

// Cancel requests cooperative cancellation of an async task.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	if o.asyncManager == nil {
		return gatewayerr.New(gatewayerr.KindBadRequest, "async cancel requires an AsyncManager")
	}
	return o.asyncManager.Cancel(ctx, taskID)
}

// ListActive returns every pending or running async task.
func (o *Orchestrator) ListActive(ctx context.Context) ([]asyncmgr.View, error) {
	if o.asyncManager == nil {
		return nil, gatewayerr.New(gatewayerr.KindBadRequest, "async list requires an AsyncManager")
	}
	return o.asyncManager.ListActive(ctx)
}

// RegisterValidator adds a custom validator factory to the orchestrator's
// registry, exposed so callers don't need to hold onto the Registry value
// themselves.
func (o *Orchestrator) RegisterValidator(name string, factory validate.Factory) error {
	return o.validators.Register(name, factory)
}

// Executor adapts run to the asyncmgr.Executor shape, for wiring an
// Orchestrator's own pipeline as the async manager's task body: the async
// manager calls exactly the same normalize/route/retry path a synchronous
// MakeRequest would.
func (o *Orchestrator) Executor() asyncmgr.Executor {
	return func(ctx context.Context, cfg message.CallConfig) (*llm.Response, error) {
		resp, gerr := o.run(ctx, cfg)
		if gerr != nil {
			return nil, gerr
		}
		return resp, nil
	}
}

// toDuration converts an optional timeout in seconds to the *time.Duration
// asyncmgr.Manager.Wait expects.
func toDuration(seconds *float64) *time.Duration {
	if seconds == nil {
		return nil
	}
	d := time.Duration(*seconds * float64(time.Second))
	return &d
}

func breakerStateValue(s retry.BreakerState) int {
	switch s {
	case retry.StateClosed:
		return 0
	case retry.StateHalfOpen:
		return 1
	case retry.StateOpen:
		return 2
	default:
		return 0
	}
}
