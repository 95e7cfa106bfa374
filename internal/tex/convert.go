package tex

import (
	"regexp"
	"strings"
)

// Lossy textual projections of LaTeX source. Deterministic, not round-trip
// safe; used for search indexing and plain/markdown export.

var (
	sectionRe       = regexp.MustCompile(`\\section\{([^{}]*)\}`)
	subsectionRe    = regexp.MustCompile(`\\subsection\{([^{}]*)\}`)
	subsubsectionRe = regexp.MustCompile(`\\subsubsection\{([^{}]*)\}`)
	hrefRe          = regexp.MustCompile(`\\href\{([^{}]*)\}\{([^{}]*)\}`)
	itemRe          = regexp.MustCompile(`\\item\s*`)
	residualCmdRe   = regexp.MustCompile(`\\[a-zA-Z]+\*?(?:\[[^\]]*\])?`)
	blankRunsRe     = regexp.MustCompile(`\n{3,}`)
)

// ToPlainText renders LaTeX source as plain text.
func ToPlainText(source string) string {
	s := ExtractBody(source)
	s = stripComments(s)

	s = sectionRe.ReplaceAllString(s, "\n\n$1\n\n")
	s = subsectionRe.ReplaceAllString(s, "\n\n$1\n\n")
	s = subsubsectionRe.ReplaceAllString(s, "\n\n$1\n\n")

	s = replaceAllStable(hrefRe, s, "$2")
	s = replaceSimpleCommand(s, "textbf", "", "")
	s = replaceSimpleCommand(s, "textit", "", "")
	s = replaceSimpleCommand(s, "emph", "", "")

	return finishConversion(s)
}

// ToMarkdown renders LaTeX source as markdown.
func ToMarkdown(source string) string {
	s := ExtractBody(source)
	s = stripComments(s)

	s = sectionRe.ReplaceAllString(s, "\n\n# $1\n\n")
	s = subsectionRe.ReplaceAllString(s, "\n\n## $1\n\n")
	s = subsubsectionRe.ReplaceAllString(s, "\n\n### $1\n\n")

	s = replaceAllStable(hrefRe, s, "[$2]($1)")
	s = replaceSimpleCommand(s, "textbf", "**", "**")
	s = replaceSimpleCommand(s, "textit", "*", "*")
	s = replaceSimpleCommand(s, "emph", "*", "*")

	return finishConversion(s)
}

func finishConversion(s string) string {
	s = removeEnv(s, "itemize")
	s = removeEnv(s, "enumerate")
	s = itemRe.ReplaceAllString(s, "\n- ")

	s = strings.ReplaceAll(s, `\\`, "\n")
	s = strings.ReplaceAll(s, `\par`, "\n\n")

	s = strings.ReplaceAll(s, "{", "")
	s = strings.ReplaceAll(s, "}", "")

	s = residualCmdRe.ReplaceAllString(s, "")

	for _, esc := range [][2]string{{`\&`, "&"}, {`\%`, "%"}, {`\_`, "_"}, {`\#`, "#"}, {`\$`, "$"}} {
		s = strings.ReplaceAll(s, esc[0], esc[1])
	}
	s = blankRunsRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// stripComments drops everything after an unescaped % on each line.
func stripComments(s string) string {
	lines := strings.Split(s, "\n")
	for li, line := range lines {
		for i := 0; i < len(line); i++ {
			if line[i] == '%' && (i == 0 || line[i-1] != '\\') {
				lines[li] = line[:i]
				break
			}
		}
	}
	return strings.Join(lines, "\n")
}

// replaceSimpleCommand rewrites \cmd{...} to left+...+right until no match
// remains, so nested occurrences unwrap from the inside out.
func replaceSimpleCommand(s, cmd, left, right string) string {
	re := regexp.MustCompile(`\\` + cmd + `\{([^{}]*)\}`)
	return replaceAllStable(re, s, left+"$1"+right)
}

func replaceAllStable(re *regexp.Regexp, s, repl string) string {
	for {
		next := re.ReplaceAllString(s, repl)
		if next == s {
			return s
		}
		s = next
	}
}

func removeEnv(s, env string) string {
	s = strings.ReplaceAll(s, `\begin{`+env+`}`, "")
	s = strings.ReplaceAll(s, `\end{`+env+`}`, "")
	return s
}
