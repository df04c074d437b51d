package message

import (
	"fmt"
	"strings"

	"github.com/relaygate/core/gatewayerr"
)

const jsonModeInstruction = "Respond with a single JSON object only. Do not include any text, markdown fences, or commentary outside the JSON object."

// BindingHint tells Normalize whether the request is headed for the
// CLI-subprocess proxy, since multimodal content is unsupported there
// (spec.md §4.1).
type BindingHint int

const (
	BindingUnknown BindingHint = iota
	BindingCLIProxy
	BindingHTTPProvider
)

// Normalize is the pure §4.1 contract: normalize(CallConfig) -> CallConfig'.
// It never mutates cfg in place; the caller's CallConfig is read-only.
func Normalize(cfg CallConfig, binding BindingHint, resolver ImageResolver) (CallConfig, error) {
	out := cfg.Clone()

	if err := resolveShorthand(&out); err != nil {
		return CallConfig{}, err
	}

	if err := validateRoles(out.Messages); err != nil {
		return CallConfig{}, err
	}

	if out.ResponseFormat != nil && out.ResponseFormat.Kind == "json_object" {
		injectJSONInstruction(&out)
	}

	if hasMultimodalContent(out.Messages) {
		if binding == BindingCLIProxy {
			return CallConfig{}, gatewayerr.New(gatewayerr.KindBadRequest, "multimodal content is unsupported on the CLI-subprocess proxy")
		}
		if err := resolveLocalImages(&out, resolver); err != nil {
			return CallConfig{}, err
		}
	}

	return out, nil
}

func resolveShorthand(cfg *CallConfig) error {
	hasQuestion := cfg.Question != nil
	hasMessages := len(cfg.Messages) > 0

	if hasQuestion == hasMessages {
		return gatewayerr.New(gatewayerr.KindBadRequest, "exactly one of question or messages must be set")
	}

	if hasQuestion {
		cfg.Messages = []Message{{Role: RoleUser, Content: *cfg.Question}}
		cfg.Question = nil
	}

	if cfg.Model == "" {
		return gatewayerr.New(gatewayerr.KindBadRequest, "model is required")
	}
	if len(cfg.Messages) == 0 {
		return gatewayerr.New(gatewayerr.KindBadRequest, "messages must not be empty")
	}
	return nil
}

func validateRoles(msgs []Message) error {
	for i, m := range msgs {
		if !m.Role.Valid() {
			return gatewayerr.New(gatewayerr.KindBadRequest, fmt.Sprintf("message %d has invalid role %q", i, m.Role))
		}
	}
	return nil
}

func injectJSONInstruction(cfg *CallConfig) {
	for i := range cfg.Messages {
		if cfg.Messages[i].Role == RoleSystem {
			if !strings.Contains(cfg.Messages[i].Content, jsonModeInstruction) {
				cfg.Messages[i].Content = strings.TrimSpace(cfg.Messages[i].Content + "\n\n" + jsonModeInstruction)
			}
			return
		}
	}
	// No system message: prepend one.
	cfg.Messages = append([]Message{{Role: RoleSystem, Content: jsonModeInstruction}}, cfg.Messages...)
}

func hasMultimodalContent(msgs []Message) bool {
	for _, m := range msgs {
		if m.IsMultimodal() {
			return true
		}
	}
	return false
}

func resolveLocalImages(cfg *CallConfig, resolver ImageResolver) error {
	if resolver == nil {
		resolver = LocalFileResolver{}
	}
	for mi := range cfg.Messages {
		for pi, p := range cfg.Messages[mi].Parts {
			if p.Type != PartImageRef || !isLocalPath(p.ImageURL) {
				continue
			}
			dataURI, err := resolver.Resolve(p.ImageURL)
			if err != nil {
				return gatewayerr.Wrap(gatewayerr.KindBadRequest, fmt.Sprintf("unreachable local image %q", p.ImageURL), err)
			}
			cfg.Messages[mi].Parts[pi].ImageURL = dataURI
		}
	}
	return nil
}

// Idempotent reports whether calling Normalize twice yields the same result
// (spec.md §8 property 1). Exposed for the property tests.
func Idempotent(cfg CallConfig, binding BindingHint, resolver ImageResolver) (bool, error) {
	once, err := Normalize(cfg, binding, resolver)
	if err != nil {
		return false, err
	}
	twice, err := Normalize(once, binding, resolver)
	if err != nil {
		return false, err
	}
	return equalCallConfig(once, twice), nil
}

func equalCallConfig(a, b CallConfig) bool {
	if a.Model != b.Model || len(a.Messages) != len(b.Messages) {
		return false
	}
	for i := range a.Messages {
		if a.Messages[i].Role != b.Messages[i].Role || a.Messages[i].Content != b.Messages[i].Content {
			return false
		}
		if len(a.Messages[i].Parts) != len(b.Messages[i].Parts) {
			return false
		}
		for j := range a.Messages[i].Parts {
			if a.Messages[i].Parts[j] != b.Messages[i].Parts[j] {
				return false
			}
		}
	}
	return true
}
