package news

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// ExtractContent pulls readable article text out of an HTML page. The
// readability pass is primary; when it errors, panics or comes back
// empty, the result falls back to stripping tags wholesale.
func ExtractContent(html, pageURL string) string {
	if text := extractReadable(html, pageURL); text != "" {
		return text
	}
	return stripTags(html)
}

func extractReadable(html, pageURL string) (text string) {
	// The extractor parses arbitrary third-party markup; a panic there
	// must not take the worker down.
	defer func() {
		if r := recover(); r != nil {
			text = ""
		}
	}()

	u, err := url.Parse(pageURL)
	if err != nil {
		u = nil
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return ""
	}
	return collapseWhitespace(article.TextContent)
}

// stripTags removes script/style subtrees and flattens the rest to text
func stripTags(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript").Remove()
	return collapseWhitespace(doc.Text())
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
