package parser

import (
	"regexp"
	"strings"
)

// htmlRE matches anything that looks like markup or an HTML entity. Field
// text matching it is treated as HTML rather than plain screen text.
var (
	htmlRE      = regexp.MustCompile(`</?\s*[a-z-][^>]*\s*>|(&(?:[\w\d]+|#\d+|#x[a-f\d]+);)`)
	styleRE     = regexp.MustCompile(`(?s)<style>.*</style>`)
	emptyBoldRE = regexp.MustCompile(`<b>\s*</b>`)
	emptyItalRE = regexp.MustCompile(`<i>\s*</i>`)
	emptyDivRE  = regexp.MustCompile(`<div>\s*</div>`)
	brokenSrcRE = regexp.MustCompile(`src= ?\n"`)
)

// HasHTML reports whether s contains markup that needs reformatting before
// it can be written to a note file.
func HasHTML(s string) bool { return htmlRE.MatchString(s) }

// PlainToHTML converts screen text from a note file into the HTML stored in
// collection fields. Newlines become <br> tags unless the text already
// contains markup.
func PlainToHTML(plain string) string {
	plain = strings.ReplaceAll(plain, "&lt;", "<")
	plain = strings.ReplaceAll(plain, "&gt;", ">")
	plain = strings.ReplaceAll(plain, "&amp;", "&")
	plain = strings.ReplaceAll(plain, "&nbsp;", " ")
	plain = emptyBoldRE.ReplaceAllString(plain, "")
	plain = emptyItalRE.ReplaceAllString(plain, "")
	plain = emptyDivRE.ReplaceAllString(plain, "")

	if !htmlRE.MatchString(plain) {
		plain = strings.ReplaceAll(plain, "\n", "<br>")
	}
	return strings.TrimSpace(plain)
}

// HTMLToScreen converts a collection field's HTML into the plain text shown
// in a note file. It does very little: strips style blocks and unescapes the
// common entities and <br> tags.
func HTMLToScreen(html string) string {
	plain := styleRE.ReplaceAllString(html, "")

	// Un-escape common LaTeX constructs for convenience.
	plain = strings.ReplaceAll(plain, `\\\\`, `\\`)
	plain = strings.ReplaceAll(plain, `\\{`, `\{`)
	plain = strings.ReplaceAll(plain, `\\}`, `\}`)
	plain = strings.ReplaceAll(plain, `\*}`, `*}`)

	plain = strings.ReplaceAll(plain, "&lt;", "<")
	plain = strings.ReplaceAll(plain, "&gt;", ">")
	plain = strings.ReplaceAll(plain, "&amp;", "&")
	plain = strings.ReplaceAll(plain, "&nbsp;", " ")

	plain = strings.ReplaceAll(plain, "<br>", "\n")
	plain = strings.ReplaceAll(plain, "<br/>", "\n")
	plain = strings.ReplaceAll(plain, "<br />", "\n")

	plain = brokenSrcRE.ReplaceAllString(plain, `src="`)
	plain = emptyBoldRE.ReplaceAllString(plain, "")
	return strings.TrimSpace(plain)
}
