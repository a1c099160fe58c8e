package dom

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTree = `{
  "tag": "body",
  "isVisible": true,
  "children": [
    {"text": "Welcome back", "isVisible": true},
    {
      "tag": "a",
      "isVisible": true,
      "isInteractive": true,
      "highlightIndex": 0,
      "attributes": {"href": "/login", "title": "Sign in"},
      "xpath": "/body[1]/a[1]",
      "children": [{"text": "Sign in", "isVisible": true}]
    },
    {
      "tag": "div",
      "isVisible": true,
      "children": [
        {
          "tag": "input",
          "isVisible": true,
          "isInteractive": true,
          "highlightIndex": 1,
          "attributes": {"type": "text", "placeholder": "Email"},
          "xpath": "/body[1]/div[1]/input[1]"
        },
        {
          "tag": "button",
          "isVisible": true,
          "isInteractive": true,
          "highlightIndex": 2,
          "attributes": {"type": "submit"},
          "children": [{"text": "Continue", "isVisible": true}]
        }
      ]
    }
  ]
}`

func parseSample(t *testing.T) (*Node, map[int]*Node) {
	t.Helper()
	root, selectorMap, err := ParseTree(json.RawMessage(sampleTree))
	require.NoError(t, err)
	return root, selectorMap
}

func TestParseTree_SelectorMap(t *testing.T) {
	_, selectorMap := parseSample(t)

	require.Len(t, selectorMap, 3)
	assert.Equal(t, "a", selectorMap[0].Tag)
	assert.Equal(t, "input", selectorMap[1].Tag)
	assert.Equal(t, "button", selectorMap[2].Tag)
}

func TestParseTree_TextNodesNeverIndexed(t *testing.T) {
	root, selectorMap := parseSample(t)

	var walk func(n *Node)
	walk = func(n *Node) {
		if n.IsTextNode() {
			assert.Nil(t, n.HighlightIndex)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)

	for _, n := range selectorMap {
		assert.False(t, n.IsTextNode())
	}
}

func TestClickableElementsToString(t *testing.T) {
	root, _ := parseSample(t)

	out := root.ClickableElementsToString([]string{"title", "type", "placeholder", "href"})

	assert.Contains(t, out, `[0]<a title="Sign in" href="/login">Sign in</a>`)
	assert.Contains(t, out, `[1]<input type="text" placeholder="Email"></input>`)
	assert.Contains(t, out, `[2]<button type="submit">Continue</button>`)
	// Context text between elements is preserved.
	assert.Contains(t, out, "Welcome back")
	// Attribute order follows the include list, not map order.
	titleIdx := strings.Index(out, "title=")
	hrefIdx := strings.Index(out, "href=")
	assert.Less(t, titleIdx, hrefIdx)
}

func TestClickableElementsToString_ExcludedAttrs(t *testing.T) {
	root, _ := parseSample(t)

	out := root.ClickableElementsToString([]string{"type"})
	assert.NotContains(t, out, "href=")
	assert.Contains(t, out, `[2]<button type="submit">Continue</button>`)
}

func TestState_GetNodeByIndex(t *testing.T) {
	root, selectorMap := parseSample(t)
	state := &State{
		URL:         "https://example.com",
		Title:       "Example",
		ElementTree: root,
		SelectorMap: selectorMap,
	}

	n, ok := state.GetNodeByIndex(2)
	require.True(t, ok)
	assert.Equal(t, "button", n.Tag)

	_, ok = state.GetNodeByIndex(99)
	assert.False(t, ok)
}

func TestInnerText(t *testing.T) {
	root, _ := parseSample(t)
	assert.Contains(t, root.InnerText(), "Sign in")
	assert.Contains(t, root.InnerText(), "Continue")
}

func TestBuildTreeExpression_EmbedsParams(t *testing.T) {
	expr := BuildTreeExpression(BuildParams{
		DoHighlightElements: true,
		FocusHighlightIndex: -1,
		ViewportExpansion:   0,
	})
	assert.Contains(t, expr, "const doHighlightElements = true;")
	assert.Contains(t, expr, "const focusHighlightIndex = -1;")
	assert.Contains(t, expr, "const viewportExpansion = 0;")
}

func TestIndexSelector(t *testing.T) {
	assert.Equal(t, `[data-webpilot-index="7"]`, IndexSelector(7))
}
