// fetch.go — HTML-to-clean-text reduction used by the extract_content
// action. Raw page HTML is reduced with goquery before any LLM summarization
// so extraction goals run against readable text instead of markup.
package browser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// noiseSelectors are stripped before text extraction.
const noiseSelectors = "script, style, noscript, nav, footer, aside, " +
	".cookie-banner, #cookie-notice, .ads, .advertisement"

// maxExtractChars caps extracted text at an LLM-friendly size.
const maxExtractChars = 8000

// ReduceHTML converts an HTML document to clean readable text, one line per
// block element, with navigation chrome and ads removed.
func ReduceHTML(htmlSource string) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlSource))
	if err != nil {
		return "", "", err
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find(noiseSelectors).Remove()
	text = docToText(doc)

	if len(text) > maxExtractChars {
		text = text[:maxExtractChars] + "\n[... content truncated ...]"
	}
	return title, text, nil
}

// docToText extracts all text from the document, flushing newlines around
// block elements.
func docToText(doc *goquery.Document) string {
	var sb strings.Builder
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, s *goquery.Selection) {
			node := s.Get(0)
			if node == nil {
				return
			}
			if node.Type == 1 { // html.TextNode
				if t := strings.TrimSpace(node.Data); t != "" {
					sb.WriteString(t)
					sb.WriteString(" ")
				}
				return
			}
			tag := strings.ToLower(node.Data)
			if isBlockTag(tag) {
				sb.WriteString("\n")
			}
			walk(s)
			if isBlockTag(tag) && tag != "br" && tag != "hr" {
				sb.WriteString("\n")
			}
		})
	}
	walk(doc.Selection)
	return collapseBlankLines(sb.String())
}

func isBlockTag(tag string) bool {
	switch tag {
	case "p", "div", "section", "article", "li", "tr",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"blockquote", "pre", "br", "hr":
		return true
	}
	return false
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := 0
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			blank++
			if blank <= 1 {
				out = append(out, "")
			}
		} else {
			blank = 0
			out = append(out, l)
		}
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
