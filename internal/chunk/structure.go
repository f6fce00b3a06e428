package chunk

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// DefaultPageChars approximates one PDF page worth of extracted text.
// Plain-text and markdown uploads carry no layout pages, so synthetic
// page numbers are derived from character offsets to keep page-based
// filters and citations meaningful.
const DefaultPageChars = 2400

// tableLinePattern matches a pipe-delimited markdown table row.
var tableLinePattern = regexp.MustCompile(`^\s*\|.+\|\s*$`)

// StructureDetector turns raw markdown or plain text into ordered
// ParsedBlocks with a heading-derived section hierarchy. It is used when
// the ingestion request carries no pre-parsed layout blocks.
type StructureDetector struct {
	md        goldmark.Markdown
	pageChars int
}

// NewStructureDetector creates a detector with default page sizing.
func NewStructureDetector() *StructureDetector {
	return &StructureDetector{
		md:        goldmark.New(),
		pageChars: DefaultPageChars,
	}
}

// Detect parses source and returns blocks in reading order. Headings
// update the section path for all following blocks; paragraphs whose
// lines are pipe-delimited are classified as tables.
func (d *StructureDetector) Detect(source []byte) []ParsedBlock {
	doc := d.md.Parser().Parse(text.NewReader(source))

	var blocks []ParsedBlock
	// headingStack[i] holds the active heading title at level i+1.
	headingStack := make([]string, 0, 6)
	page := 1

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		content, offset := nodeText(n, source)
		if strings.TrimSpace(content) == "" {
			continue
		}
		if offset >= 0 {
			page = 1 + offset/d.pageChars
		}

		if h, ok := n.(*ast.Heading); ok {
			title := strings.TrimSpace(content)
			headingStack = trimStack(headingStack, h.Level)
			headingStack = append(headingStack, title)

			blocks = append(blocks, ParsedBlock{
				Text:         title,
				PageNumber:   page,
				Type:         BlockHeading,
				SectionPath:  strings.Join(headingStack, " > "),
				HeadingLevel: h.Level,
			})
			continue
		}

		blockType := BlockText
		if isTable(content) {
			blockType = BlockTable
		}
		blocks = append(blocks, ParsedBlock{
			Text:        normalizeWhitespace(content),
			PageNumber:  page,
			Type:        blockType,
			SectionPath: strings.Join(headingStack, " > "),
		})
	}

	return blocks
}

// trimStack drops headings at the given level and deeper.
func trimStack(stack []string, level int) []string {
	if level-1 < len(stack) {
		return stack[:level-1]
	}
	return stack
}

// nodeText reassembles a block node's source text and returns it with the
// character offset of its first line, or -1 when the node spans no lines.
func nodeText(n ast.Node, source []byte) (string, int) {
	lines := n.Lines()
	if lines.Len() == 0 {
		return "", -1
	}
	var sb strings.Builder
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(source))
	}
	return sb.String(), lines.At(0).Start
}

// isTable reports whether every non-empty line is a pipe-delimited row.
func isTable(content string) bool {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) < 2 {
		return false
	}
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !tableLinePattern.MatchString(line) {
			return false
		}
	}
	return true
}

// normalizeWhitespace collapses runs of whitespace except for tables,
// where line structure matters.
func normalizeWhitespace(content string) string {
	if isTable(content) {
		return strings.TrimSpace(content)
	}
	return strings.Join(strings.Fields(content), " ")
}
