package extract

import (
	"regexp"
	"strings"
)

// blockMarker matches a line that opens an example block. Group 1 is the
// marker word, group 2 the rest of the line.
var blockMarker = regexp.MustCompile(`(?i)^\s*(example|pattern|usage)\s*:\s*(.*)$`)

// maxConceptWords bounds how long a marker remainder can be and still name
// a concept rather than begin the block body.
const maxConceptWords = 6

// DetectBlocks scans text line by line for "Example:" / "Pattern:" /
// "Usage:" markers. A block runs from its marker to the next blank line,
// the next marker, or the end of the text. A short remainder on the marker
// line names the block's concept; a longer one starts the body.
func DetectBlocks(text string) []CodeBlock {
	lines := strings.Split(text, "\n")
	var blocks []CodeBlock
	for i := 0; i < len(lines); i++ {
		m := blockMarker.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		kind := BlockKind(strings.ToLower(m[1]))
		concept := ""
		var body []string
		if remainder := strings.TrimSpace(m[2]); remainder != "" {
			if len(strings.Fields(remainder)) <= maxConceptWords && !strings.HasSuffix(remainder, ".") {
				concept = remainder
			} else {
				body = append(body, remainder)
			}
		}

		j := i + 1
		for ; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == "" || blockMarker.MatchString(lines[j]) {
				break
			}
			body = append(body, lines[j])
		}
		i = j - 1

		content := strings.TrimSpace(strings.Join(body, "\n"))
		if content == "" && concept == "" {
			continue
		}
		if content == "" {
			// The marker named a concept but carried no body; the concept
			// itself is the content.
			content = concept
		}
		blocks = append(blocks, CodeBlock{Kind: kind, Concept: concept, Content: content})
	}
	return blocks
}
