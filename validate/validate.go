// Package validate implements the validator registry and the built-in
// validators that the retry engine runs against each provider response.
// Grounded on tools/registry.go's read-mostly sync.RWMutex map, generalized
// from tool factories to validator factories.
package validate

import (
	"context"
	"fmt"
	"sync"

	"github.com/relaygate/core/gatewayerr"
	"github.com/relaygate/core/llm"
	"github.com/relaygate/core/message"
)

// Spec is the registry's resolve key, kept as an alias to message's type so
// callers never need to convert between package-local copies.
type Spec = message.ValidatorSpec

// ValidationResult is the uniform outcome every validator produces. Normal
// validation failure sets Valid=false and a Reasoning; it is never an error.
type ValidationResult struct {
	Valid       bool
	Confidence  float64
	Reasoning   string
	Suggestions []string
	Metadata    map[string]any
}

// Context carries the per-attempt data a validator may need beyond the
// response itself: the original user prompt (for AI-assisted templating)
// and the current attempt number.
type Context struct {
	OriginalUserPrompt string
	Attempt            int
	Stage              string
}

// Validator is the uniform capability every registered check implements.
// Validate must not panic or return an error for an ordinary failed check;
// error is reserved for invariant violations (a nil response, for example).
type Validator interface {
	Name() string
	Validate(ctx context.Context, resp *llm.Response, vctx Context) (ValidationResult, error)
}

// Factory builds a Validator from a ValidatorSpec's params bag.
type Factory func(params map[string]any) (Validator, error)

// Registry is the process-wide, name-keyed validator factory table.
// Mutations use a read-mostly lock since resolves vastly outnumber
// registrations (spec.md §6 "Shared-resource policy").
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry. Tests and callers construct their
// own rather than sharing module-level state (spec.md §9 "Global mutable
// state" redesign).
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a named factory. Re-registering an existing name fails.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return gatewayerr.New(gatewayerr.KindBadRequest, fmt.Sprintf("validator %q is already registered", name))
	}
	r.factories[name] = factory
	return nil
}

// Resolve builds a Validator from spec. Unknown names fail at config-parse
// time rather than at attempt time.
func (r *Registry) Resolve(spec Spec) (Validator, error) {
	r.mu.RLock()
	factory, ok := r.factories[spec.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, gatewayerr.New(gatewayerr.KindBadRequest, fmt.Sprintf("unknown validator type %q", spec.Type))
	}
	return factory(spec.Params)
}

// ResolveAll resolves each spec in order, failing on the first bad one.
func (r *Registry) ResolveAll(specs []Spec) ([]Validator, error) {
	out := make([]Validator, 0, len(specs))
	for _, s := range specs {
		v, err := r.Resolve(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// NewDefaultRegistry returns a Registry with all built-in validators
// registered under their spec.md §4.3 names (and aliases).
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	registerBuiltins(r)
	return r
}
