package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SpriteSize is the requested sprite dimensions in pixels.
type SpriteSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// StructuredPrompt is the normalized generation request stored with a job.
type StructuredPrompt struct {
	Type        string            `json:"type"`
	Style       string            `json:"style"`
	Size        SpriteSize        `json:"size"`
	Action      string            `json:"action"`
	Description string            `json:"description"`
	Raw         string            `json:"raw"`
	Options     map[string]string `json:"options,omitempty"`
}

// Canonical renders the prompt in a stable textual form so logically
// identical requests hash to the same cache key. Option keys are sorted;
// the Raw field is included verbatim.
func (p StructuredPrompt) Canonical() string {
	var b strings.Builder
	fmt.Fprintf(&b, "type=%s|style=%s|size=%dx%d|action=%s|desc=%s|raw=%s",
		p.Type, p.Style, p.Size.Width, p.Size.Height, p.Action, p.Description, p.Raw)
	if len(p.Options) > 0 {
		keys := make([]string, 0, len(p.Options))
		for k := range p.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "|opt:%s=%s", k, p.Options[k])
		}
	}
	return b.String()
}

// Validate checks the fields the pipeline depends on.
func (p StructuredPrompt) Validate() error {
	if strings.TrimSpace(p.Type) == "" {
		return &ValidationError{Field: "type", Reason: "prompt type is required"}
	}
	if p.Size.Width <= 0 || p.Size.Height <= 0 {
		return &ValidationError{Field: "size", Reason: "sprite dimensions must be positive"}
	}
	return nil
}

// MarshalPrompt serializes a prompt for queue storage.
func MarshalPrompt(p StructuredPrompt) ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalPrompt decodes a stored prompt payload.
func UnmarshalPrompt(raw []byte) (StructuredPrompt, error) {
	var p StructuredPrompt
	if err := json.Unmarshal(raw, &p); err != nil {
		return StructuredPrompt{}, fmt.Errorf("decode structured prompt: %w", err)
	}
	return p, nil
}
