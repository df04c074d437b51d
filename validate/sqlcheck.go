package validate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/relaygate/core/llm"
)

// No SQL-parser library appears anywhere in the retrieval pack either, so
// sql/sql_safe are implemented as a tokenizing scanner over the leading
// statement keyword plus a denylist match, rather than a real grammar.

var sqlLeadingKeyword = regexp.MustCompile(`(?i)^\s*(select|insert|update|delete|with|create|alter|drop|truncate|merge|grant|revoke)\b`)

var defaultSQLDenylist = []string{"drop", "delete", "truncate"}

// sqlValidator implements sql: content is accepted as a SQL statement when
// it begins with a recognized leading keyword and its single quotes
// balance, with a doubled quote counted as an escape. It is not a full grammar:
// parentheses and the number of statements are not checked.
type sqlValidator struct{}

func newSQLValidator(map[string]any) (Validator, error) { return sqlValidator{}, nil }
func (sqlValidator) Name() string                        { return "sql" }

func (sqlValidator) Validate(_ context.Context, resp *llm.Response, _ Context) (ValidationResult, error) {
	text := strings.TrimSpace(primaryText(resp))
	if !sqlLeadingKeyword.MatchString(text) {
		return ValidationResult{Valid: false, Reasoning: "content does not begin with a recognized SQL statement keyword"}, nil
	}
	if result, err := checkBalancedQuoting(text); err != nil || !result {
		return ValidationResult{Valid: false, Reasoning: "unbalanced quoting in SQL statement"}, nil
	}
	return ValidationResult{Valid: true}, nil
}

func checkBalancedQuoting(s string) (bool, error) {
	count := strings.Count(s, "'") - strings.Count(s, "''")*2
	return count%2 == 0, nil
}

// sqlSafeValidator implements sql_safe: the statement must not contain any
// denylisted keyword (DROP/DELETE/TRUNCATE by default, configurable).
type sqlSafeValidator struct {
	denylist []string
}

func newSQLSafeValidator(params map[string]any) (Validator, error) {
	v := &sqlSafeValidator{denylist: defaultSQLDenylist}
	if raw, ok := params["denylist"].([]any); ok {
		list := make([]string, 0, len(raw))
		for _, item := range raw {
			if s, ok := item.(string); ok {
				list = append(list, strings.ToLower(s))
			}
		}
		if len(list) > 0 {
			v.denylist = list
		}
	}
	return v, nil
}

func (v *sqlSafeValidator) Name() string { return "sql_safe" }

func (v *sqlSafeValidator) Validate(_ context.Context, resp *llm.Response, _ Context) (ValidationResult, error) {
	lower := strings.ToLower(primaryText(resp))
	for _, kw := range v.denylist {
		if matched, _ := regexp.MatchString(`\b`+regexp.QuoteMeta(kw)+`\b`, lower); matched {
			return ValidationResult{Valid: false, Reasoning: fmt.Sprintf("statement contains denylisted keyword %q", kw)}, nil
		}
	}
	return ValidationResult{Valid: true}, nil
}
