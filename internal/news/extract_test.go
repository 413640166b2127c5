package news

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractContentReadable(t *testing.T) {
	html := `<html><head><title>T</title></head><body>
		<article><h1>Headline</h1>
		<p>First paragraph of the story with enough words to register as content.</p>
		<p>Second paragraph continues the story in some detail for the reader.</p>
		</article>
		<script>var tracking = true;</script>
		</body></html>`

	out := ExtractContent(html, "https://example.com/story")
	assert.Contains(t, out, "First paragraph of the story")
	assert.NotContains(t, out, "tracking")
}

func TestExtractContentFallbackStripsTags(t *testing.T) {
	// No article structure; the strip-tags fallback should still return text
	out := stripTags("<div>alpha <b>beta</b><style>.x{}</style> gamma</div>")
	assert.Equal(t, "alpha beta gamma", out)
}

func TestExtractContentMalformed(t *testing.T) {
	// Malformed input must not panic, worst case empty output
	assert.NotPanics(t, func() {
		ExtractContent("<<<>>>", "://bad url")
	})
}
