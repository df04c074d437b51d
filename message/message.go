// Package message defines the canonical chat-message shape shared across
// the gateway and the pure normalization pipeline that turns a caller's
// CallConfig into the shape the router and retry engine expect.
package message

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Role is a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// PartType enumerates the kinds of content a multimodal Part may carry.
type PartType string

const (
	PartText       PartType = "text"
	PartImageRef   PartType = "image_url"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Part is one element of a multimodal message's content array.
type Part struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`
	// ImageURL is either a remote URL, a data: URI, or (pre-normalization) a
	// local file path.
	ImageURL   string `json:"image_url,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ToolInput  string `json:"tool_input,omitempty"`
	ToolOutput string `json:"tool_output,omitempty"`
}

// Message is {role, content} where content is either a plain string or an
// ordered list of Parts.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
	Parts   []Part `json:"parts,omitempty"`
}

// IsMultimodal reports whether the message carries a Parts array rather
// than a plain string.
func (m Message) IsMultimodal() bool { return len(m.Parts) > 0 }

// HasLocalImage reports whether any image part references a local file
// path rather than a remote URL or an already-resolved data URI.
func (m Message) HasLocalImage() bool {
	for _, p := range m.Parts {
		if p.Type == PartImageRef && isLocalPath(p.ImageURL) {
			return true
		}
	}
	return false
}

func isLocalPath(ref string) bool {
	if ref == "" {
		return false
	}
	if strings.HasPrefix(ref, "data:") {
		return false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return true
	}
	return u.Scheme == "" || u.Scheme == "file"
}

// ImageResolver turns a local image reference into an embeddable data URI.
// The default implementation reads the file directly; callers may inject a
// different resolver (e.g. one that fetches from object storage) without
// the normalizer needing to know about it. This is the external
// "image-processing collaborator" spec.md §4.1 refers to.
type ImageResolver interface {
	Resolve(ref string) (dataURI string, err error)
}

// LocalFileResolver reads image bytes from the local filesystem and base64
// encodes them into a data: URI.
type LocalFileResolver struct{}

func (LocalFileResolver) Resolve(ref string) (string, error) {
	path := ref
	if u, err := url.Parse(ref); err == nil && u.Scheme == "file" {
		path = u.Path
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read local image %q: %w", path, err)
	}
	mime := mimeFromExt(path)
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(b)), nil
}

func mimeFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
