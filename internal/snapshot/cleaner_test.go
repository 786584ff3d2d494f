package snapshot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const samplePage = `<!DOCTYPE html>
<html><head>
<meta charset="utf-8">
<link rel="stylesheet" href="/main.css">
<style>body { color: red }</style>
<script>window.tracker = true;</script>
<title>Sample</title>
</head><body>
<!-- build marker -->
<header><nav><a href="/">Home</a></nav></header>
<main><h1>Hello</h1><p>World</p>
<form><input type="hidden" name="csrf" value="token"><input type="text" name="q"></form>
</main>
<footer>© Example</footer>
<noscript>Enable JS</noscript>
</body></html>`

func TestCleanHTMLLevelZero(t *testing.T) {
	assert.Equal(t, samplePage, CleanHTML(samplePage, 0))
}

func TestCleanHTMLBasic(t *testing.T) {
	out := CleanHTML(samplePage, 1)

	assert.NotContains(t, out, "<script")
	assert.NotContains(t, out, "<style")
	assert.NotContains(t, out, "<meta")
	assert.NotContains(t, out, "<link")
	assert.NotContains(t, out, "<noscript")

	// Content and structure survive at level 1.
	assert.Contains(t, out, "<h1>Hello</h1>")
	assert.Contains(t, out, "<header>")
	assert.Contains(t, out, "<form>")
}

func TestCleanHTMLAggressive(t *testing.T) {
	out := CleanHTML(samplePage, 2)

	assert.NotContains(t, out, "<header")
	assert.NotContains(t, out, "<footer")
	assert.NotContains(t, out, "<nav")
	assert.NotContains(t, out, "<form")
	assert.NotContains(t, out, "build marker")
	assert.NotContains(t, out, "csrf")

	assert.Contains(t, out, "Hello")
	assert.Contains(t, out, "World")
}

func TestCleanHTMLCollapsesWhitespace(t *testing.T) {
	out := CleanHTML("<p>a</p>\n\n\n   <p>b</p>", 1)
	assert.NotContains(t, out, "\n")
	assert.NotContains(t, out, "  ")
}

func TestCleanHTMLGarbageInput(t *testing.T) {
	// The HTML parser is forgiving; cleaning must never panic.
	out := CleanHTML("<div><<<>>>", 2)
	assert.NotEmpty(t, out)
}

func TestVisibleText(t *testing.T) {
	text := VisibleText(samplePage, 1)
	assert.Contains(t, text, "Hello")
	assert.Contains(t, text, "World")
	assert.NotContains(t, text, "tracker")
}

func TestTruncate(t *testing.T) {
	s := strings.Repeat("x", 100)

	out, truncated := Truncate(s, 10)
	assert.Len(t, out, 10)
	assert.True(t, truncated)

	out, truncated = Truncate(s, 100)
	assert.Len(t, out, 100)
	assert.False(t, truncated)

	out, truncated = Truncate(s, 0)
	assert.Len(t, out, 100)
	assert.False(t, truncated, "zero budget disables truncation")
}
