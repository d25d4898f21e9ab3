// Package onebot is a minimal OneBot v11 HTTP API client: the segment
// message model plus the two send actions the pusher needs.
package onebot

import (
	"encoding/base64"
	"fmt"
	"os"
)

// Segment is one element of a OneBot message array.
type Segment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Message is an ordered list of segments.
type Message []Segment

// Text creates a plain-text segment.
func Text(s string) Segment {
	return Segment{Type: "text", Data: map[string]any{"text": s}}
}

// At creates a mention segment for one user.
func At(userID string) Segment {
	return Segment{Type: "at", Data: map[string]any{"qq": userID}}
}

// ImageFile creates an image segment from a local file, inlined as
// base64 so the bot process does not need filesystem access.
func ImageFile(path string) (Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Segment{}, fmt.Errorf("read image: %w", err)
	}
	return Segment{
		Type: "image",
		Data: map[string]any{"file": "base64://" + base64.StdEncoding.EncodeToString(data)},
	}, nil
}

// Plain renders the text content of the message, ignoring non-text
// segments. Useful for logs and tests.
func (m Message) Plain() string {
	out := ""
	for _, seg := range m {
		if seg.Type != "text" {
			continue
		}
		if s, ok := seg.Data["text"].(string); ok {
			out += s
		}
	}
	return out
}
