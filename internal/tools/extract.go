package tools

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// Content extraction for web_fetch: JSON is pretty-printed, HTML is
// reduced to readable text, anything else passes through raw.

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style)\b[^>]*>.*?</(script|style)>`)
	brRe          = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockCloseRe  = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|table|blockquote|section|article|ul|ol|pre)>`)
	tagRe         = regexp.MustCompile(`<[^>]*>`)
	multiBlankRe  = regexp.MustCompile(`\n{3,}`)
	spaceRunRe    = regexp.MustCompile(`[ \t]{2,}`)
)

// extractContent converts a response body to model-friendly text
// based on its content type (or a sniffed HTML prefix).
func extractContent(body []byte, contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "application/json"):
		return prettyJSON(body)
	case strings.Contains(ct, "text/html") || looksLikeHTML(body):
		return htmlToText(string(body))
	default:
		return string(body)
	}
}

func looksLikeHTML(body []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(body))
	if len(head) > 256 {
		head = head[:256]
	}
	return bytes.HasPrefix(head, []byte("<!doctype")) || bytes.HasPrefix(head, []byte("<html"))
}

func prettyJSON(body []byte) string {
	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return string(body)
	}
	pretty, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return string(body)
	}
	return string(pretty)
}

// htmlToText strips scripts and styles, maps structural tags to line
// breaks, removes the remaining tags, and decodes common entities.
func htmlToText(html string) string {
	text := scriptStyleRe.ReplaceAllString(html, "")
	text = brRe.ReplaceAllString(text, "\n")
	text = blockCloseRe.ReplaceAllString(text, "\n\n")
	text = tagRe.ReplaceAllString(text, "")
	text = decodeEntities(text)
	text = spaceRunRe.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = multiBlankRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&nbsp;", " ",
)

func decodeEntities(s string) string {
	return entityReplacer.Replace(s)
}
