// Package cliproxy implements the CLI-subprocess proxy: an HTTP endpoint
// with a chat-completion shape that translates one HTTP request into one
// subprocess invocation of an external CLI binary, streams its
// line-delimited JSON event output, and returns a single synchronous
// response (spec.md §4.5). Grounded on server/server.go's mux and
// sendJSON/sendError response pattern, generalized from workflow-management
// endpoints to chat-completions.
package cliproxy

import (
	"regexp"
	"time"
)

// modelSelectorPattern whitelists the CLI model-selector token extracted
// from a "cli/<selector>" model string, preventing argument injection into
// the subprocess argv (spec.md §4.5 step 3).
var modelSelectorPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Config configures one proxy instance: which CLI binary to spawn and how
// to address it.
type Config struct {
	// Command is the CLI executable to spawn (e.g. "claude", "my-cli").
	Command string
	// BaseArgs are flags always passed before the per-request flags.
	BaseArgs []string
	// PromptFlag/SystemPromptFlag/ModelFlag/StreamFlag/ToolConfigFlag name
	// the CLI's flags for each concept; defaults match a conventional CLI.
	PromptFlag       string
	SystemPromptFlag string
	ModelFlag        string
	StreamFlag       string
	ToolConfigFlag   string
	// ExtraFlags is an operator-supplied string tokenized with
	// github.com/google/shlex; every resulting token is appended as its own
	// argv entry (never passed to a shell). Tokens are not filtered against
	// any whitelist.
	ExtraFlags string

	// ScratchRoot is the parent directory under which per-request scratch
	// directories are created via os.MkdirTemp. Empty means os.TempDir().
	ScratchRoot string

	// SubprocessTimeout bounds how long a single CLI invocation may run
	// before it is sent SIGTERM (then SIGKILL after GraceTimeout).
	SubprocessTimeout time.Duration
	GraceTimeout      time.Duration

	// DefaultToolConfigJSON is written as .tools.json when a request
	// carries no mcp_config (the "all-tools" default, spec.md §4.5 step 2).
	DefaultToolConfigJSON string
}

// DefaultConfig mirrors the teacher's DefaultConfig zero-fill convention.
func DefaultConfig() Config {
	return Config{
		Command:           "cli-tool",
		PromptFlag:        "--prompt",
		SystemPromptFlag:  "--system",
		ModelFlag:         "--model",
		StreamFlag:        "--json-stream",
		ToolConfigFlag:    "--tools-config",
		SubprocessTimeout: 120 * time.Second,
		GraceTimeout:      5 * time.Second,
	}
}
