// Package tex transforms between LaTeX markup and plain text, and assembles
// full compilable documents from model-produced or normalized bodies.
package tex

import (
	"regexp"
	"strings"
)

var specials = []struct {
	from string
	to   string
}{
	{`\`, `\textbackslash{}`},
	{"&", `\&`},
	{"%", `\%`},
	{"$", `\$`},
	{"#", `\#`},
	{"_", `\_`},
	{"{", `\{`},
	{"}", `\}`},
	{"~", `\textasciitilde{}`},
	{"^", `\textasciicircum{}`},
}

// Escape maps reserved markup characters to their escaped forms. Used only for
// deterministic text-to-markup conversion, never on model output.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		replaced := false
		for _, sp := range specials {
			if string(r) == sp.from {
				b.WriteString(sp.to)
				replaced = true
				break
			}
		}
		if !replaced {
			b.WriteRune(r)
		}
	}
	return b.String()
}

const (
	beginDocument = `\begin{document}`
	endDocument   = `\end{document}`
)

// ExtractBody returns the content between \begin{document} and \end{document}.
// If the markers are absent the whole input is treated as the body.
func ExtractBody(source string) string {
	start := strings.Index(source, beginDocument)
	if start >= 0 {
		end := strings.LastIndex(source, endDocument)
		if end > start {
			return strings.TrimSpace(source[start+len(beginDocument) : end])
		}
	}
	return strings.TrimSpace(source)
}

var (
	tocDirectiveRe = regexp.MustCompile(`\\tableofcontents\b.*?\n`)

	// A manually authored table of contents the model may have produced despite
	// instructions: either a leading Contents section heading, or a bare
	// heading followed by a list, both terminated by a page break.
	manualTocSectionRe = regexp.MustCompile(`(?is)\A\s*\\section\*?\{\s*(Содержание|Contents)\s*\}.*?(\\newpage|\\clearpage)\s*`)
	manualTocItemizeRe = regexp.MustCompile(`(?is)\A\s*(Содержание|Contents)\s*\n\s*\\begin\{itemize\}.*?\\end\{itemize\}\s*(\\newpage|\\clearpage)\s*`)
	manualTocEnumRe    = regexp.MustCompile(`(?is)\A\s*(Содержание|Contents)\s*\n\s*\\begin\{enumerate\}.*?\\end\{enumerate\}\s*(\\newpage|\\clearpage)\s*`)
)

// SanitizeBody strips any pre-existing table-of-contents directive and a
// leading manually-authored Contents section. The wrapper adds its own
// directive when requested, so duplicates must not survive.
func SanitizeBody(body string) string {
	body = tocDirectiveRe.ReplaceAllString(body, "")
	body = manualTocSectionRe.ReplaceAllString(body, "")
	body = manualTocItemizeRe.ReplaceAllString(body, "")
	body = manualTocEnumRe.ReplaceAllString(body, "")
	return strings.TrimSpace(body)
}

const preamble = `\documentclass[12pt]{article}
\usepackage[a4paper,margin=2.5cm]{geometry}
\usepackage{fontspec}
\usepackage{polyglossia}
\setmainlanguage{russian}
\setotherlanguage{english}
\setmainfont{DejaVu Serif}
\usepackage{microtype}
\usepackage{setspace}
\setstretch{1.12}
\usepackage{parskip}
\setlength{\parindent}{0pt}
\usepackage{hyperref}
\hypersetup{colorlinks=true, linkcolor=blue, urlcolor=blue}
\usepackage{enumitem}
\setlist{nosep}
\usepackage{bookmark}`

// MakeFullDocument sanitizes the body and wraps it with the fixed preamble and
// an optional table-of-contents directive.
func MakeFullDocument(body string, toc bool) string {
	body = SanitizeBody(body)
	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString("\n\n")
	b.WriteString(beginDocument)
	b.WriteString("\n")
	if toc {
		b.WriteString(`\tableofcontents\newpage`)
		b.WriteString("\n\n")
	}
	b.WriteString(body)
	b.WriteString("\n\n")
	b.WriteString(endDocument)
	b.WriteString("\n")
	return b.String()
}
