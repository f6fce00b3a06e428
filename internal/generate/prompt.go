package generate

import (
	"fmt"
	"strings"

	"github.com/docsense/docsense/internal/assemble"
)

// answerSystemPrompt grounds the model in the retrieved context.
const answerSystemPrompt = `You are a document-grounded assistant. Answer strictly from the provided source excerpts.
Rules:
- Use only information from the SOURCE blocks below. Do not use outside knowledge.
- Cite the page number when you state a fact, e.g. (p. 12).
- If the sources do not contain the answer, say the information was not found in the document.
- Preserve numbers, units, and table values exactly as written.`

// summarySystemPrompt drives whole-document summarization.
const summarySystemPrompt = `You are a document summarization assistant. Produce a concise, faithful summary of the provided document sections.
Rules:
- Cover the main topics in document order.
- Preserve key figures and conclusions exactly.
- Do not add information that is not in the sections.`

// keyPointsSystemPrompt drives key-point extraction.
const keyPointsSystemPrompt = `You are a document analysis assistant. Extract the key points of the provided document sections as a bullet list.
Rules:
- One point per bullet, most important first.
- Preserve key figures and conclusions exactly.
- Do not add information that is not in the sections.`

// sourceHeader renders the provenance line above each context section.
func sourceHeader(s assemble.Section) string {
	pages := fmt.Sprintf("Page %d", s.PageStart)
	if s.PageEnd > s.PageStart {
		pages = fmt.Sprintf("Pages %d-%d", s.PageStart, s.PageEnd)
	}
	file := s.SourceFile
	if file == "" {
		file = s.DocID
	}
	if s.SectionPath != "" {
		return fmt.Sprintf("[SOURCE: %s | %s | %s]", file, pages, s.SectionPath)
	}
	return fmt.Sprintf("[SOURCE: %s | %s]", file, pages)
}

// BuildAnswerPrompt renders the retrieved sections and the question into
// the system/user message pair for answer generation.
func BuildAnswerPrompt(query string, ctx *assemble.Context) (system, user string) {
	var sb strings.Builder
	for i, section := range ctx.Sections {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(sourceHeader(section))
		sb.WriteString("\n")
		sb.WriteString(section.Text)
	}
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(query)
	return answerSystemPrompt, sb.String()
}

// BuildSummaryPrompt renders document sections for summarization or
// key-point extraction, depending on mode.
func BuildSummaryPrompt(fileName string, mode SummaryMode, sections []assemble.Section) (system, user string) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Document: %s\n", fileName)
	for _, section := range sections {
		sb.WriteString("\n")
		sb.WriteString(sourceHeader(section))
		sb.WriteString("\n")
		sb.WriteString(section.Text)
		sb.WriteString("\n")
	}
	if mode == ModeKeyPoints {
		sb.WriteString("\nList the key points of this document.")
		return keyPointsSystemPrompt, sb.String()
	}
	sb.WriteString("\nSummarize this document.")
	return summarySystemPrompt, sb.String()
}
