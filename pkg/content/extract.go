// Package content extracts derived plain-text state from the structured
// rich-text document stored in Post.ContentJSON. The document is a tree
// of nodes ({"type": "doc", "content": [...]}) where leaf text nodes
// carry a "text" field and heading nodes carry an attrs.level.
package content

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"

	"inkwell/pkg/models"
	"inkwell/pkg/utils"
)

type node struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Attrs   attrs  `json:"attrs,omitempty"`
	Content []node `json:"content,omitempty"`
}

type attrs struct {
	Level int `json:"level,omitempty"`
}

// blockTypes get a separating space when flattened so that adjacent
// blocks do not run their words together.
var blockTypes = map[string]bool{
	"paragraph":  true,
	"heading":    true,
	"blockquote": true,
	"listItem":   true,
	"list_item":  true,
	"codeBlock":  true,
	"code_block": true,
}

// PlainText flattens the rich-text document into plain text. Malformed
// documents yield an empty string rather than an error; derived state is
// best-effort and must never block the primary write path.
func PlainText(contentJSON string) string {
	var root node
	if err := json.Unmarshal([]byte(contentJSON), &root); err != nil {
		return ""
	}
	var b strings.Builder
	flatten(&root, &b)
	return strings.Join(strings.Fields(b.String()), " ")
}

func flatten(n *node, b *strings.Builder) {
	if n.Text != "" {
		b.WriteString(n.Text)
	}
	for i := range n.Content {
		flatten(&n.Content[i], b)
	}
	if blockTypes[n.Type] {
		b.WriteByte(' ')
	}
}

// Truncate bounds s to at most limit runes, never splitting a rune.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

// Snippet derives a short human-readable excerpt, cutting at the last
// word boundary inside the limit when one exists.
func Snippet(s string, limit int) string {
	t := Truncate(s, limit)
	if t == s {
		return t
	}
	if i := strings.LastIndexByte(t, ' '); i > limit/2 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}

// TOC collects heading nodes into a table of contents. Anchors are slugs
// of the heading text, deduplicated with a numeric suffix.
func TOC(contentJSON string) []models.TOCEntry {
	var root node
	if err := json.Unmarshal([]byte(contentJSON), &root); err != nil {
		return nil
	}
	var out []models.TOCEntry
	seen := map[string]int{}
	var walk func(n *node)
	walk = func(n *node) {
		if n.Type == "heading" {
			var b strings.Builder
			for i := range n.Content {
				flatten(&n.Content[i], &b)
			}
			text := strings.TrimSpace(b.String())
			if text != "" {
				anchor := utils.MakeSlug(text, "section")
				if c := seen[anchor]; c > 0 {
					seen[anchor] = c + 1
					anchor = anchor + "-" + strconv.Itoa(c+1)
				} else {
					seen[anchor] = 1
				}
				level := n.Attrs.Level
				if level <= 0 {
					level = 1
				}
				out = append(out, models.TOCEntry{Level: level, Text: text, Anchor: anchor})
			}
		}
		for i := range n.Content {
			walk(&n.Content[i])
		}
	}
	walk(&root)
	return out
}
