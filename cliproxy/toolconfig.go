package cliproxy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/relaygate/core/message"
)

// toolConfigFileName is the well-known file the CLI reads its
// tool-configuration input from (spec.md §4.5 step 2).
const toolConfigFileName = ".tools.json"

// defaultAllToolsJSON is written when a request carries no mcp_config.
const defaultAllToolsJSON = `{"servers":{}}`

// materializeToolConfig writes the effective tool config to scratchDir and
// returns its path. cfg may be nil, in which case the configured
// default (or the all-tools fallback) is used.
func materializeToolConfig(scratchDir string, cfg *message.ToolConfig, defaultJSON string) (string, error) {
	var body []byte
	switch {
	case cfg != nil:
		b, err := json.Marshal(cfg)
		if err != nil {
			return "", fmt.Errorf("marshal tool config: %w", err)
		}
		body = b
	case defaultJSON != "":
		body = []byte(defaultJSON)
	default:
		body = []byte(defaultAllToolsJSON)
	}

	path := filepath.Join(scratchDir, toolConfigFileName)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return "", fmt.Errorf("write tool config: %w", err)
	}
	return path, nil
}

// decodeToolConfig accepts either a JSON or YAML-authored tool-config
// document (spec.md SPEC_FULL §2.1 yaml.v3 wiring) and normalizes it into
// a message.ToolConfig.
func decodeToolConfig(raw string) (*message.ToolConfig, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	var cfg message.ToolConfig
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal([]byte(trimmed), &cfg); err != nil {
			return nil, fmt.Errorf("decode JSON tool config: %w", err)
		}
		return &cfg, nil
	}
	if err := yaml.Unmarshal([]byte(trimmed), &cfg); err != nil {
		return nil, fmt.Errorf("decode YAML tool config: %w", err)
	}
	return &cfg, nil
}
