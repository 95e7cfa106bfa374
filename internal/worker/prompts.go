package worker

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are an expert technical editor and LaTeX typesetter. ` +
	`Your task is to improve the document according to the requirements and ` +
	`return a LaTeX document. Preserve the author's meaning, language and ` +
	`factual content. Never invent new content and never drop information. ` +
	`Return only LaTeX.`

const repairSystemPrompt = `You are an expert LaTeX typesetter. You receive a ` +
	`LaTeX document that fails to compile together with the compiler ` +
	`diagnostics, and you return a corrected version of the same document. ` +
	`Change as little as possible beyond what is needed to make it compile.`

// buildRequirements states every editing option in both polarities, so the
// model is told what it must not do as explicitly as what it must.
func buildRequirements(payload TransformPayload) string {
	mark := func(on bool) string {
		if on {
			return "Required"
		}
		return "Forbidden"
	}
	lines := []string{
		mark(payload.FixSpelling) + ": checking and fixing spelling, grammar and punctuation",
		mark(payload.ImproveStructure) + ": improving structure (spacing, line breaks, sectioning)",
		mark(payload.TOC) + ": table of contents",
	}
	return strings.Join(lines, "\n")
}

// buildUserPrompt assembles the rewrite instructions for one transform job.
// isTex tells the model whether the input payload is already LaTeX source or
// plain extracted text.
func buildUserPrompt(input string, isTex bool, payload TransformPayload) string {
	var b strings.Builder
	b.WriteString("Editing requirements:\n")
	b.WriteString(buildRequirements(payload))
	if extra := strings.TrimSpace(payload.Extra); extra != "" {
		b.WriteString("\n\nExtra:\nRequired, overriding any requirement above that it contradicts: \"")
		b.WriteString(extra)
		b.WriteString("\"")
	}
	b.WriteString("\n\nOutput format:\n")
	b.WriteString("Return only a LaTeX (.tex) document. No explanations, no code fences.\n")
	b.WriteString("The document must compile under LuaLaTeX/XeLaTeX.\n")
	b.WriteString("Use \\section / \\subsection where appropriate.\n")
	b.WriteString("If the table of contents is required: do NOT emit \\tableofcontents and do NOT build a contents section by hand (no standalone Contents section, no list of links). Just mark up headings with \\section/\\subsection; the table of contents is added automatically.\n")
	b.WriteString("If the table of contents is forbidden: do NOT emit \\tableofcontents and do NOT add a manual Contents section.\n")

	header := "Input (text)"
	if isTex {
		header = "Input (LaTeX)"
	}
	b.WriteString("\n")
	b.WriteString(header)
	b.WriteString(":\n<<<\n")
	b.WriteString(input)
	b.WriteString("\n>>>\n")
	return b.String()
}

// buildRepairPrompt carries the failing source and the compiler tail back to
// the model for a single correction round.
func buildRepairPrompt(source, diagnostics string) string {
	return fmt.Sprintf("The following LaTeX document fails to compile.\n\n"+
		"Compiler output:\n\n%s\n\n"+
		"Document source:\n\n%s\n\n"+
		"Return the corrected document body only (the content between \\begin{document} and \\end{document}). No markdown fences, no commentary.",
		diagnostics, source)
}
