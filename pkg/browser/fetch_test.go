package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html>
<head><title>Pricing — Acme</title><style>body{color:red}</style></head>
<body>
<nav><a href="/">Home</a><a href="/pricing">Pricing</a></nav>
<h1>Pricing</h1>
<p>The <strong>Pro</strong> plan costs $29 per month.</p>
<script>trackPageView();</script>
<div class="ads">Buy stuff!</div>
<footer>© Acme</footer>
</body>
</html>`

func TestReduceHTML(t *testing.T) {
	title, text, err := ReduceHTML(samplePage)
	require.NoError(t, err)

	assert.Equal(t, "Pricing — Acme", title)
	assert.Contains(t, text, "Pricing")
	assert.Contains(t, text, "$29 per month")

	// Noise is stripped.
	assert.NotContains(t, text, "trackPageView")
	assert.NotContains(t, text, "color:red")
	assert.NotContains(t, text, "Buy stuff")
	assert.NotContains(t, text, "© Acme")
}

func TestReduceHTML_TruncatesLongPages(t *testing.T) {
	long := "<html><body><p>"
	for i := 0; i < 4000; i++ {
		long += "word "
	}
	long += "</p></body></html>"

	_, text, err := ReduceHTML(long)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(text), maxExtractChars+64)
	assert.Contains(t, text, "truncated")
}

func TestCollapseBlankLines(t *testing.T) {
	in := "a\n\n\n\nb\n\nc"
	assert.Equal(t, "a\n\nb\n\nc", collapseBlankLines(in))
}
