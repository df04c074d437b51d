// Package router classifies a normalized CallConfig into a provider
// binding and the parameter set that binding's transport accepts. Grounded
// on llm/router.go's RoutePolicy.Select, generalized from "pick a Client"
// to "classify CLI_PROXY vs HTTP_PROVIDER and strip internal keys."
package router

import (
	"strings"

	"github.com/relaygate/core/gatewayerr"
	"github.com/relaygate/core/message"
)

// Binding identifies which transport a routed call goes over.
type Binding string

const (
	BindingCLIProxy    Binding = "CLI_PROXY"
	BindingHTTPProvider Binding = "HTTP_PROVIDER"
)

// cliPrefix is the reserved, case-insensitive model-string prefix that
// selects the CLI-subprocess proxy.
const cliPrefix = "cli/"

// defaultCLISubmodel is used when the model string is exactly "cli/" with
// nothing after the prefix.
const defaultCLISubmodel = "default"

// reservedParamKeys are stripped before handing params to an HTTP_PROVIDER;
// they are internal-only and the downstream completion() capability does
// not accept them (spec.md §4.2 invariant).
var reservedParamKeys = map[string]struct{}{
	"validation":    {},
	"retry_config":  {},
	"mcp_config":    {},
	"provider":      {},
	"model":         {},
	"messages":      {},
	"question":      {},
	"diagnostics":   {},
}

const internalKeyMarker = "_internal_"

// cliCarriedParams are the only param keys forwarded to the CLI proxy
// binding (spec.md §4.2).
var cliCarriedParams = map[string]struct{}{
	"temperature":     {},
	"max_tokens":      {},
	"stream":          {},
	"response_format": {},
}

// Result is the router's output: the chosen binding, the CLI submodel
// selector (if binding is CLI_PROXY), and the filtered param set.
type Result struct {
	Binding  Binding
	Submodel string
	Params   map[string]any
}

// Route classifies cfg in O(1): a prefix check plus a map-filtered param
// copy, no further allocation (spec.md §4.2 performance target).
func Route(cfg message.CallConfig) (Result, error) {
	if cfg.Model == "" {
		return Result{}, gatewayerr.New(gatewayerr.KindBadRequest, "model is required")
	}

	if submodel, ok := matchCLIPrefix(cfg.Model); ok {
		return Result{
			Binding:  BindingCLIProxy,
			Submodel: submodel,
			Params:   filterParams(cfg.Params, cliCarriedParams, true),
		}, nil
	}

	return Result{
		Binding: BindingHTTPProvider,
		Params:  filterParams(cfg.Params, reservedParamKeys, false),
	}, nil
}

// matchCLIPrefix reports whether model begins with the reserved "cli/"
// token (case-insensitive) and returns the submodel selector.
func matchCLIPrefix(model string) (string, bool) {
	if len(model) < len(cliPrefix) {
		return "", false
	}
	if !strings.EqualFold(model[:len(cliPrefix)], cliPrefix) {
		return "", false
	}
	submodel := model[len(cliPrefix):]
	if submodel == "" {
		submodel = defaultCLISubmodel
	}
	return submodel, true
}

// filterParams copies params, either keeping only an allowlist (CLI_PROXY)
// or dropping a denylist plus anything bearing the internal-key marker
// (HTTP_PROVIDER).
func filterParams(params map[string]any, set map[string]struct{}, allowlist bool) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		_, inSet := set[k]
		if allowlist {
			if inSet {
				out[k] = v
			}
			continue
		}
		if inSet || strings.HasPrefix(k, internalKeyMarker) {
			continue
		}
		out[k] = v
	}
	return out
}
