// Package dom models the interactive-element tree extracted from a page and
// its point-in-time browser state. Highlight indices are stable within one
// snapshot only; any action addressed by index must use the snapshot the
// index came from.
package dom

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Node is one element or text node in the extracted tree.
type Node struct {
	Tag            string            `json:"tag,omitempty"`
	Text           string            `json:"text,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	IsVisible      bool              `json:"isVisible,omitempty"`
	IsInteractive  bool              `json:"isInteractive,omitempty"`
	HighlightIndex *int              `json:"highlightIndex,omitempty"`
	XPath          string            `json:"xpath,omitempty"`
	FrameURL       string            `json:"frameUrl,omitempty"`
	Children       []*Node           `json:"children,omitempty"`
}

// IsTextNode reports whether the node carries only text. Text nodes never
// receive a highlight index.
func (n *Node) IsTextNode() bool {
	return n.Tag == "" && n.Text != ""
}

// TabInfo describes one open tab in the window.
type TabInfo struct {
	TabID int    `json:"tabId"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// State is an immutable point-in-time snapshot of a page.
type State struct {
	URL         string
	Title       string
	Tabs        []TabInfo
	ElementTree *Node
	SelectorMap map[int]*Node
	Screenshot  string // base64 JPEG, empty when not requested
	PixelsAbove int
	PixelsBelow int
}

// GetNodeByIndex resolves a highlight index against this snapshot.
func (s *State) GetNodeByIndex(index int) (*Node, bool) {
	n, ok := s.SelectorMap[index]
	return n, ok
}

// ParseTree decodes the JSON produced by the injected build script and
// returns the root node plus the index→node selector map.
func ParseTree(raw json.RawMessage) (*Node, map[int]*Node, error) {
	var root Node
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, nil, fmt.Errorf("parse dom tree: %w", err)
	}
	selectorMap := make(map[int]*Node)
	collectIndices(&root, selectorMap)
	return &root, selectorMap, nil
}

func collectIndices(n *Node, into map[int]*Node) {
	if n.HighlightIndex != nil {
		into[*n.HighlightIndex] = n
	}
	for _, c := range n.Children {
		collectIndices(c, into)
	}
}

// ClickableElementsToString serializes the interactive subset of the tree
// for the LLM. Each interactive element renders as
// [index]<tag attr="value">text</tag>; visible text between elements is kept
// as plain context lines.
func (n *Node) ClickableElementsToString(includeAttributes []string) string {
	var sb strings.Builder
	writeClickable(n, includeAttributes, &sb)
	return strings.TrimRight(sb.String(), "\n")
}

func writeClickable(n *Node, includeAttributes []string, sb *strings.Builder) {
	if n.IsTextNode() {
		if text := collapseWhitespace(n.Text); text != "" && n.IsVisible {
			sb.WriteString(text)
			sb.WriteByte('\n')
		}
		return
	}

	if n.HighlightIndex != nil {
		sb.WriteString(fmt.Sprintf("[%d]<%s", *n.HighlightIndex, n.Tag))
		for _, attr := range sortedAttrs(n.Attributes, includeAttributes) {
			sb.WriteString(fmt.Sprintf(" %s=%q", attr, n.Attributes[attr]))
		}
		sb.WriteString(">")
		sb.WriteString(clipText(collapseWhitespace(n.InnerText()), 120))
		sb.WriteString(fmt.Sprintf("</%s>\n", n.Tag))
		return
	}

	for _, c := range n.Children {
		writeClickable(c, includeAttributes, sb)
	}
}

// InnerText concatenates the visible text under this node.
func (n *Node) InnerText() string {
	if n.IsTextNode() {
		return n.Text
	}
	var parts []string
	for _, c := range n.Children {
		if t := c.InnerText(); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// sortedAttrs returns the subset of attrs named in include, in a stable
// order so serialization is deterministic across snapshots.
func sortedAttrs(attrs map[string]string, include []string) []string {
	if len(attrs) == 0 {
		return nil
	}
	var keep []string
	if len(include) == 0 {
		for k := range attrs {
			keep = append(keep, k)
		}
		sort.Strings(keep)
		return keep
	}
	for _, k := range include {
		if v, ok := attrs[k]; ok && v != "" {
			keep = append(keep, k)
		}
	}
	return keep
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func clipText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
