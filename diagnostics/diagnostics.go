// Package diagnostics classifies an auth-kind error into a human-readable
// report, used by the retry engine when it short-circuits on
// gatewayerr.KindAuth (spec.md §4.8). New code: the teacher has no
// diagnostics module, so this follows the teacher's own struct-and-table
// idiom rather than copying a specific file.
package diagnostics

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relaygate/core/gatewayerr"
	"github.com/relaygate/core/message"
)

// Category is one of the fixed classification buckets spec.md §4.8 names.
type Category string

const (
	CategoryJWTTimeValidation Category = "JWT_TIME_VALIDATION"
	CategoryAPIKeyInvalid     Category = "API_KEY_INVALID"
	CategoryAPIKeyMissing     Category = "API_KEY_MISSING"
	CategoryPermission        Category = "PERMISSION"
	CategoryQuota             Category = "QUOTA"
	CategoryNetwork           Category = "NETWORK"
	CategoryUnknown           Category = "UNKNOWN"
)

type patternEntry struct {
	category    Category
	severity    string
	match       func(msg string) bool
	causes      []string
	remediation []string
}

var patternTable = []patternEntry{
	{
		category: CategoryAPIKeyMissing,
		severity: "critical",
		match:    containsAny("api key is missing", "no api key", "missing authorization", "api_key not set"),
		causes:   []string{"provider credential environment variable is unset"},
		remediation: []string{
			"verify the provider API key environment variable is set",
			"restart the process after setting credentials",
		},
	},
	{
		category: CategoryAPIKeyInvalid,
		severity: "critical",
		match:    containsAny("invalid api key", "unauthorized", "401", "authentication failed", "incorrect api key"),
		causes:   []string{"credential is malformed, revoked, or for the wrong environment"},
		remediation: []string{
			"regenerate the provider API key",
			"confirm the key matches the target environment (prod vs staging)",
		},
	},
	{
		category: CategoryPermission,
		severity: "warning",
		match:    containsAny("forbidden", "403", "permission denied", "not authorized for"),
		causes:   []string{"the credential lacks the scope/role required for this model or endpoint"},
		remediation: []string{
			"grant the credential access to the requested model",
			"check organization/project-level permission settings",
		},
	},
	{
		category: CategoryQuota,
		severity: "warning",
		match:    containsAny("quota", "rate limit exceeded", "429", "insufficient_quota", "billing"),
		causes:   []string{"account quota or rate limit has been exhausted"},
		remediation: []string{
			"check provider billing/usage dashboard",
			"request a quota increase or wait for the window to reset",
		},
	},
	{
		category: CategoryNetwork,
		severity: "warning",
		match:    containsAny("connection refused", "no such host", "timeout", "eof", "network is unreachable"),
		causes:   []string{"the provider endpoint is unreachable from this process"},
		remediation: []string{
			"verify network connectivity and DNS resolution to the provider",
			"check outbound firewall rules",
		},
	},
}

func containsAny(substrs ...string) func(string) bool {
	return func(msg string) bool {
		for _, s := range substrs {
			if strings.Contains(msg, s) {
				return true
			}
		}
		return false
	}
}

// Diagnose classifies err (expected to carry or wrap an auth-kind
// gatewayerr.Error) into a structured report. It never mutates cfg or any
// credential; it only reads the bearer token value, if present in cfg's
// params, to compute JWT clock drift.
func Diagnose(err error, cfg message.CallConfig) *gatewayerr.DiagnosticReport {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())

	if drift, ok := jwtClockDrift(bearerTokenFrom(cfg)); ok {
		return &gatewayerr.DiagnosticReport{
			Category: string(CategoryJWTTimeValidation),
			Severity: "critical",
			Summary:  "the provider's bearer token fails time-based validation relative to this host's clock",
			Causes:   []string{"local system clock has drifted from a trusted time source"},
			Remediation: []string{
				"sync the host clock via NTP",
				"reissue the token after correcting clock drift",
			},
			ClockDrift: &drift,
		}
	}

	for _, entry := range patternTable {
		if entry.match(msg) {
			return &gatewayerr.DiagnosticReport{
				Category:    string(entry.category),
				Severity:    entry.severity,
				Summary:     err.Error(),
				Causes:      entry.causes,
				Remediation: entry.remediation,
			}
		}
	}

	return &gatewayerr.DiagnosticReport{
		Category:    string(CategoryUnknown),
		Severity:    "warning",
		Summary:     err.Error(),
		Causes:      []string{"no known classification pattern matched this error"},
		Remediation: []string{"inspect the raw provider error for detail"},
	}
}

func bearerTokenFrom(cfg message.CallConfig) string {
	if cfg.Params == nil {
		return ""
	}
	if v, ok := cfg.Params["_internal_bearer_token"].(string); ok {
		return v
	}
	return ""
}

// jwtClockDrift parses token without verifying its signature (diagnostics
// only ever reads timing claims, never authenticates with it) and compares
// exp/nbf/iat against the local clock, reporting the drift that would
// explain a time-validation failure.
func jwtClockDrift(token string) (time.Duration, bool) {
	if token == "" {
		return 0, false
	}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	_, _, err := parser.ParseUnverified(token, claims)
	if err != nil {
		return 0, false
	}
	now := time.Now()
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && now.After(exp.Time) {
		return now.Sub(exp.Time), true
	}
	if nbf, err := claims.GetNotBefore(); err == nil && nbf != nil && now.Before(nbf.Time) {
		return nbf.Time.Sub(now), true
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil && now.Before(iat.Time) {
		return iat.Time.Sub(now), true
	}
	return 0, false
}
