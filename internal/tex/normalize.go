package tex

import (
	"regexp"
	"strings"
)

var (
	paragraphSplitRe = regexp.MustCompile(`\n\s*\n+`)
	bulletLineRe     = regexp.MustCompile(`^\s*([\-\x{2022}\*])\s+(.+)$`)
	numberedLineRe   = regexp.MustCompile(`^\s*(\d+)[\.)]\s+(.+)$`)
	spaceRunsRe      = regexp.MustCompile(`[ \t]+`)
)

// NormalizeText converts plain text to a LaTeX body without changing words or
// punctuation. Wrapped lines within a paragraph are joined; a block where
// every line looks like a bullet or numbered item (two or more lines) becomes
// an itemize/enumerate construct; all literal text is escaped.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var parts []string
	for _, block := range paragraphSplitRe.Split(strings.TrimSpace(text), -1) {
		var lines []string
		for _, ln := range strings.Split(block, "\n") {
			if strings.TrimSpace(ln) != "" {
				lines = append(lines, strings.TrimRight(ln, " \t"))
			}
		}
		if len(lines) == 0 {
			continue
		}

		if items, ok := matchListBlock(lines, bulletLineRe); ok {
			parts = append(parts, listEnv("itemize", items))
			continue
		}
		if items, ok := matchListBlock(lines, numberedLineRe); ok {
			parts = append(parts, listEnv("enumerate", items))
			continue
		}

		joined := strings.Join(lines, " ")
		joined = strings.TrimSpace(spaceRunsRe.ReplaceAllString(joined, " "))
		parts = append(parts, Escape(joined))
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// matchListBlock reports whether every line matches the item pattern, and
// returns the escaped item texts. Single-line blocks stay ordinary paragraphs.
func matchListBlock(lines []string, re *regexp.Regexp) ([]string, bool) {
	if len(lines) < 2 {
		return nil, false
	}
	items := make([]string, 0, len(lines))
	for _, ln := range lines {
		m := re.FindStringSubmatch(ln)
		if m == nil {
			return nil, false
		}
		items = append(items, Escape(strings.TrimSpace(m[2])))
	}
	return items, true
}

func listEnv(env string, items []string) string {
	var b strings.Builder
	b.WriteString(`\begin{` + env + "}")
	for _, it := range items {
		b.WriteString("\n\\item " + it)
	}
	b.WriteString("\n\\end{" + env + "}")
	return b.String()
}
