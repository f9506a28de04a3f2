package summarizer

import "regexp"

// These mirror the source scrubber's exact ordering: strip headings, then
// bold/italic pairs from widest to narrowest, then list markers, then
// inline code, then any stray orphaned marker characters, then collapse
// blank-line runs. Order matters — doing the single-char passes before the
// paired ones would eat the pairing characters first.
var (
	reHeading      = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+`)
	reBoldItalic   = regexp.MustCompile(`(?s)\*\*\*(.+?)\*\*\*`)
	reBold         = regexp.MustCompile(`(?s)\*\*(.+?)\*\*`)
	reBoldUnder    = regexp.MustCompile(`(?s)__(.+?)__`)
	reItalicStar   = regexp.MustCompile(`(?s)\*(.+?)\*`)
	reItalicUnder  = regexp.MustCompile(`(?s)_(.+?)_`)
	reListBullet   = regexp.MustCompile(`(?m)^[ \t]*[*\-+]\s+`)
	reInlineCode   = regexp.MustCompile("`{1,3}([^`]+)`{1,3}")
	reStrayStar    = regexp.MustCompile(`(^|[^\w])\*+($|[^\w])`)
	reStrayHash    = regexp.MustCompile(`(^|[^\w])#+($|[^\w])`)
	reBlankRuns    = regexp.MustCompile(`\n{3,}`)
)

// cleanMarkdown strips Markdown syntax so a response renders cleanly in a
// plain-text chat message — the LLM is told not to use Markdown, but
// models don't always comply, so the result is scrubbed defensively.
func cleanMarkdown(text string) string {
	if text == "" {
		return ""
	}

	text = reHeading.ReplaceAllString(text, "")
	text = reBoldItalic.ReplaceAllString(text, "$1")
	text = reBold.ReplaceAllString(text, "$1")
	text = reBoldUnder.ReplaceAllString(text, "$1")
	text = reItalicStar.ReplaceAllString(text, "$1")
	text = reItalicUnder.ReplaceAllString(text, "$1")
	text = reListBullet.ReplaceAllString(text, "• ")
	text = reInlineCode.ReplaceAllString(text, "$1")
	text = reStrayStar.ReplaceAllString(text, "$1$2")
	text = reStrayHash.ReplaceAllString(text, "$1$2")
	text = reBlankRuns.ReplaceAllString(text, "\n\n")

	return trimSpace(text)
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
