package search

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/docsense/docsense/internal/chunk"
)

var (
	pageRangePattern  = regexp.MustCompile(`(?i)\bpages\s+(\d+)\s*(?:-|to|through)\s*(\d+)\b`)
	singlePagePattern = regexp.MustCompile(`(?i)\b(?:on\s+)?page\s+(\d+)\b`)
	tablePattern      = regexp.MustCompile(`(?i)\b(?:in\s+the\s+table|from\s+the\s+table|table\s+(?:on|of|shows?|data))\b`)
	sectionPattern    = regexp.MustCompile(`(?i)\b(?:in|under)\s+(?:the\s+)?(?:section|chapter)\s+["']?([^"'?.,]+)["']?`)
)

// Analyse extracts structural filters from a natural-language query and
// returns the cleaned query text. "what does the table on page 12 show"
// becomes a table filter, a page filter, and the residual keywords.
func Analyse(query string) (string, Filters) {
	var filters Filters
	cleaned := query

	if m := pageRangePattern.FindStringSubmatch(cleaned); m != nil {
		start, _ := strconv.Atoi(m[1])
		end, _ := strconv.Atoi(m[2])
		if start > 0 && end >= start {
			filters.PageStart, filters.PageEnd = start, end
			cleaned = pageRangePattern.ReplaceAllString(cleaned, " ")
		}
	} else if m := singlePagePattern.FindStringSubmatch(cleaned); m != nil {
		if page, _ := strconv.Atoi(m[1]); page > 0 {
			filters.PageStart, filters.PageEnd = page, page
			cleaned = singlePagePattern.ReplaceAllString(cleaned, " ")
		}
	}

	if tablePattern.MatchString(cleaned) {
		filters.BlockType = string(chunk.BlockTable)
	}

	if m := sectionPattern.FindStringSubmatch(cleaned); m != nil {
		filters.Section = strings.TrimSpace(m[1])
		cleaned = sectionPattern.ReplaceAllString(cleaned, " ")
	}

	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		// A query that was nothing but filter phrases keeps its original
		// text so the lexical arm still has terms to match.
		cleaned = strings.TrimSpace(query)
	}
	return cleaned, filters
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
