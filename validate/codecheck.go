package validate

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"strings"

	"github.com/relaygate/core/llm"
)

// codeValidator implements code / python: content parses as syntactically
// valid source of the given language. Go source is checked with the
// stdlib parser, since Go ships its own and there is no reason to prefer a
// third-party one. Every other language (python included) falls back to a
// bracket-balance heuristic, since no embeddable parser for those languages
// exists anywhere in the example corpus.
type codeValidator struct {
	language string
}

func newCodeValidator(params map[string]any) (Validator, error) {
	lang, _ := params["language"].(string)
	if lang == "" {
		lang = "python"
	}
	return &codeValidator{language: strings.ToLower(lang)}, nil
}

func (v *codeValidator) Name() string { return "code" }

func (v *codeValidator) Validate(_ context.Context, resp *llm.Response, _ Context) (ValidationResult, error) {
	src := primaryText(resp)
	if strings.TrimSpace(src) == "" {
		return ValidationResult{Valid: false, Reasoning: "content is empty"}, nil
	}
	switch v.language {
	case "go", "golang":
		return validateGoSource(src)
	default:
		return validateBracketBalance(src)
	}
}

func validateGoSource(src string) (ValidationResult, error) {
	fset := token.NewFileSet()
	_, err := parser.ParseFile(fset, "validated.go", "package main\n"+src, parser.AllErrors)
	if err != nil {
		// Retry without an assumed package clause, in case the content is a
		// full file rather than a snippet.
		if _, err2 := parser.ParseFile(fset, "validated.go", src, parser.AllErrors); err2 == nil {
			return ValidationResult{Valid: true}, nil
		}
		return ValidationResult{Valid: false, Reasoning: fmt.Sprintf("go source does not parse: %v", err)}, nil
	}
	return ValidationResult{Valid: true}, nil
}

// validateBracketBalance is a best-effort syntactic sanity check: every
// (), [] and {} pair outside single- or double-quoted strings balances and
// nests correctly. Indentation is not checked. It cannot replace a real
// parser, but it
// catches the truncated-output and mismatched-delimiter failures that
// dominate real validator failures in practice.
func validateBracketBalance(src string) (ValidationResult, error) {
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}
	opens := map[rune]bool{'(': true, '[': true, '{': true}
	var stack []rune
	inString := rune(0)
	escaped := false
	for _, r := range src {
		if escaped {
			escaped = false
			continue
		}
		if inString != 0 {
			if r == '\\' {
				escaped = true
			} else if r == inString {
				inString = 0
			}
			continue
		}
		switch r {
		case '\'', '"':
			inString = r
		default:
			if opens[r] {
				stack = append(stack, r)
			} else if open, ok := pairs[r]; ok {
				if len(stack) == 0 || stack[len(stack)-1] != open {
					return ValidationResult{Valid: false, Reasoning: fmt.Sprintf("unbalanced delimiter %q", string(r))}, nil
				}
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) != 0 {
		return ValidationResult{Valid: false, Reasoning: "unbalanced delimiters at end of content"}, nil
	}
	return ValidationResult{Valid: true}, nil
}
