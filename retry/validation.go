package retry

import (
	"context"
	"fmt"
	"strings"

	"github.com/relaygate/core/llm"
	"github.com/relaygate/core/message"
	"github.com/relaygate/core/validate"
)

// validationOutcome aggregates the per-validator results for one attempt.
type validationOutcome struct {
	valid       bool
	failedNames []string
	reasonings  []string
	suggestions []string
}

// runValidators applies validators in spec order. The first failure
// short-circuits the remainder unless debugMode is set, in which case all
// validators run and their results are concatenated (spec.md §4.3
// "Ordering").
func runValidators(ctx context.Context, validators []validate.Validator, resp *llm.Response, vctx validate.Context, debugMode bool) (validationOutcome, error) {
	outcome := validationOutcome{valid: true}
	for _, v := range validators {
		result, err := v.Validate(ctx, resp, vctx)
		if err != nil {
			return validationOutcome{}, fmt.Errorf("validator %q: %w", v.Name(), err)
		}
		if !result.Valid {
			outcome.valid = false
			outcome.failedNames = append(outcome.failedNames, v.Name())
			outcome.reasonings = append(outcome.reasonings, result.Reasoning)
			outcome.suggestions = append(outcome.suggestions, result.Suggestions...)
			if !debugMode {
				return outcome, nil
			}
		}
	}
	return outcome, nil
}

// buildFeedbackMessage synthesizes the deterministic user-role feedback
// message appended to the working history after a failed validation pass
// (spec.md §4.4 "Validation").
func buildFeedbackMessage(attempt int, outcome validationOutcome, stage, toolName string) message.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Attempt %d failed validation.\n", attempt)
	fmt.Fprintf(&b, "Failed checks: %s\n", strings.Join(outcome.failedNames, ", "))
	for i, name := range outcome.failedNames {
		if i < len(outcome.reasonings) && outcome.reasonings[i] != "" {
			fmt.Fprintf(&b, "- %s: %s\n", name, outcome.reasonings[i])
		}
	}
	if len(outcome.suggestions) > 0 {
		fmt.Fprintf(&b, "Suggestions: %s\n", strings.Join(outcome.suggestions, "; "))
	}
	if stage == stageToolAugmented {
		name := toolName
		if name == "" {
			name = "the configured debug tool"
		}
		fmt.Fprintf(&b, "Use %s to address the failure before responding again.\n", name)
	}
	return message.Message{Role: message.RoleUser, Content: strings.TrimSpace(b.String())}
}
