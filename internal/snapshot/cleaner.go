// Package snapshot captures and condenses page state for tool replies:
// URL, title, and HTML cleaned of script noise and truncated to a
// configurable budget.
package snapshot

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Tags removed at every cleaning level.
var basicRemovals = []string{"script", "style", "meta", "link", "noscript"}

// Additional removals in aggressive mode. Headers, footers and navigation
// are the big space sinks on commerce and news pages.
var aggressiveRemovals = []string{"svg", "iframe", "canvas", "form", "header", "footer", "nav"}

var whitespaceRE = regexp.MustCompile(`\s+`)

// CleanHTML strips unwanted tags from raw HTML. Level 0 returns the input
// unchanged; level 1 removes scripting and styling; level 2 additionally
// removes structural chrome and comments.
func CleanHTML(raw string, level int) string {
	if level <= 0 || raw == "" {
		return raw
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return raw
	}

	doc.Find(strings.Join(basicRemovals, ", ")).Remove()

	if level >= 2 {
		doc.Find(strings.Join(aggressiveRemovals, ", ")).Remove()
		doc.Find(`input[type="hidden"]`).Remove()
		removeComments(doc)
	}

	html, err := doc.Html()
	if err != nil {
		return raw
	}
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(html, " "))
}

// VisibleText extracts the page text after cleaning, newline-joined.
func VisibleText(raw string, level int) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(CleanHTML(raw, level)))
	if err != nil {
		return ""
	}
	var parts []string
	doc.Find("body *").Each(func(_ int, s *goquery.Selection) {
		if s.Children().Length() > 0 {
			return
		}
		text := strings.TrimSpace(s.Text())
		if text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n")
}

// Truncate cuts s to max bytes, reporting whether anything was lost.
// max <= 0 disables truncation.
func Truncate(s string, max int) (string, bool) {
	if max <= 0 || len(s) <= max {
		return s, false
	}
	return s[:max], true
}

// removeComments walks the underlying node tree; goquery has no selector
// for comment nodes.
func removeComments(doc *goquery.Document) {
	for _, root := range doc.Nodes {
		stripComments(root)
	}
}

func stripComments(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode {
			n.RemoveChild(c)
		} else {
			stripComments(c)
		}
		c = next
	}
}
