// Package chunk splits Markdown documents into retrieval-sized chunks with
// stable identity.
//
// Chunks are boundary-aligned with no overlap: splitting happens at heading
// boundaries first, then at paragraph boundaries when a section exceeds the
// budget, and only falls back to a hard length cut when a single run of text
// has no boundary within the budget. Fenced code blocks are never split.
// Re-chunking identical content always yields the identical chunk sequence,
// which is what makes delete-then-insert replacement idempotent.
package chunk

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxChunkSize is the chunk budget in bytes. Sized so a chunk plus
// its header path stays well inside the embedding model's input window.
const DefaultMaxChunkSize = 5000

// DefaultSummaryLength bounds the extracted summary.
const DefaultSummaryLength = 200

// maxTitleLength bounds fallback titles taken from body text.
const maxTitleLength = 100

// Chunk is one bounded span of a document, the atomic unit of storage and
// retrieval.
type Chunk struct {
	Number     int    // 0-indexed, contiguous within the document
	Title      string
	Summary    string
	Content    string // header path line (if any) followed by the chunk text
	HeaderPath string // e.g. "[#] Sales > [##] Invoicing"
}

// Options configures a Chunker. Zero values select the defaults.
type Options struct {
	// MaxChunkSize bounds the chunk body in bytes. The header path line
	// prepended to Content sits outside this budget, so Content can exceed
	// it by the path length plus one newline.
	MaxChunkSize  int
	SummaryLength int
}

// Chunker splits Markdown text into chunks. Safe for concurrent use.
type Chunker struct {
	maxChunkSize  int
	summaryLength int
}

// New creates a Chunker.
func New(opts Options) *Chunker {
	if opts.MaxChunkSize <= 0 {
		opts.MaxChunkSize = DefaultMaxChunkSize
	}
	if opts.SummaryLength <= 0 {
		opts.SummaryLength = DefaultSummaryLength
	}
	return &Chunker{
		maxChunkSize:  opts.MaxChunkSize,
		summaryLength: opts.SummaryLength,
	}
}

// Navigation noise left over from the HTML→Markdown conversion.
var (
	onThisPageRe = regexp.MustCompile(`(?s)##### On this page.*?(\n\n|\z)`)
	navigationRe = regexp.MustCompile(`(?s)### Navigation.*?(\n\n|\z)`)
	fileLinkRe   = regexp.MustCompile(`\(file:[^)]*\)`)
	emptyLinkRe  = regexp.MustCompile(`\* \[[^\]]*\]\(\)`)
	multiBlankRe = regexp.MustCompile(`\n{3,}`)
	pilcrowRe    = regexp.MustCompile(`\s*\[¶\]\(\)`)
	mdLinkRe     = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	headingRe    = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
)

// Split divides text into chunks. The url is only used to derive a fallback
// title for documents without headings. An empty or whitespace-only document
// yields zero chunks and no error.
func (c *Chunker) Split(url, text string) ([]Chunk, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("document %s: content is not valid UTF-8", url)
	}

	cleaned := preprocess(text)
	if cleaned == "" {
		return nil, nil
	}

	var chunks []Chunk
	for _, sec := range parseSections(cleaned) {
		for _, body := range c.splitSection(sec) {
			body = strings.TrimSpace(body)
			if body == "" {
				continue
			}

			content := body
			if sec.headerPath != "" {
				content = sec.headerPath + "\n" + body
			}

			chunks = append(chunks, Chunk{
				Number:     len(chunks),
				Title:      extractTitle(sec.heading, body, url),
				Summary:    c.extractSummary(body),
				Content:    content,
				HeaderPath: sec.headerPath,
			})
		}
	}
	return chunks, nil
}

// preprocess strips navigation artifacts that carry no retrieval value.
func preprocess(text string) string {
	text = onThisPageRe.ReplaceAllString(text, "\n\n")
	text = navigationRe.ReplaceAllString(text, "\n\n")
	text = fileLinkRe.ReplaceAllString(text, "()")
	text = emptyLinkRe.ReplaceAllString(text, "")
	text = multiBlankRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// section is a run of text governed by one heading stack. The heading line
// itself stays in the body so it is embedded along with its content.
type section struct {
	headerPath string
	heading    string // deepest heading text, used as the chunk title
	body       string
}

// parseSections splits the document at level 1–4 headings, tracking the
// hierarchical header path. Heading markers inside fenced code blocks are
// ignored. Text before the first heading becomes a section with an empty
// header path.
func parseSections(text string) []section {
	lines := strings.Split(text, "\n")

	var sections []section
	var cur []string
	headers := make([]string, 4) // header text per level, 1-indexed as level-1
	curPath := ""
	curHeading := ""
	inFence := false
	fenceMarker := ""

	flush := func() {
		body := strings.TrimSpace(strings.Join(cur, "\n"))
		if body != "" {
			sections = append(sections, section{
				headerPath: curPath,
				heading:    curHeading,
				body:       body,
			})
		}
		cur = cur[:0]
	}

	for _, line := range lines {
		if marker, ok := fenceDelimiter(line); ok {
			if !inFence {
				inFence = true
				fenceMarker = marker
			} else if strings.HasPrefix(marker, fenceMarker[:1]) {
				inFence = false
			}
			cur = append(cur, line)
			continue
		}

		if !inFence {
			if level, title, ok := parseHeading(line); ok && level <= 4 {
				flush()
				curHeading = cleanHeaderText(title)
				headers[level-1] = curHeading
				for i := level; i < 4; i++ {
					headers[i] = ""
				}
				curPath = buildHeaderPath(headers)
			}
		}
		cur = append(cur, line)
	}
	flush()

	return sections
}

// fenceDelimiter reports whether line opens or closes a fenced code block.
func fenceDelimiter(line string) (string, bool) {
	trimmed := strings.TrimLeft(line, " ")
	if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
		return trimmed[:3], true
	}
	return "", false
}

// parseHeading parses an ATX heading line into its level and title.
func parseHeading(line string) (int, string, bool) {
	m := headingRe.FindStringSubmatch(line)
	if m == nil {
		return 0, "", false
	}
	return len(m[1]), m[2], true
}

// cleanHeaderText strips pilcrow anchors and link syntax from heading text.
func cleanHeaderText(header string) string {
	header = pilcrowRe.ReplaceAllString(header, "")
	header = mdLinkRe.ReplaceAllString(header, "$1")
	return strings.TrimSpace(header)
}

// buildHeaderPath renders the heading stack as "[#] A > [##] B".
func buildHeaderPath(headers []string) string {
	var parts []string
	for i, h := range headers {
		if h != "" {
			parts = append(parts, fmt.Sprintf("[%s] %s", strings.Repeat("#", i+1), h))
		}
	}
	return strings.Join(parts, " > ")
}

// splitSection returns the section body as one or more pieces within the
// chunk budget. Splitting prefers paragraph boundaries; a fenced code block
// is atomic even when it alone exceeds the budget.
func (c *Chunker) splitSection(sec section) []string {
	if len(sec.body) <= c.maxChunkSize {
		return []string{sec.body}
	}

	var pieces []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			pieces = append(pieces, buf.String())
			buf.Reset()
		}
	}

	for _, block := range parseBlocks(sec.body) {
		if buf.Len() > 0 && buf.Len()+len(block)+2 > c.maxChunkSize {
			flush()
		}

		if len(block) > c.maxChunkSize {
			if isFencedBlock(block) {
				// Code blocks are never split; an oversized fence becomes
				// its own oversized chunk.
				flush()
				pieces = append(pieces, block)
				continue
			}
			flush()
			pieces = append(pieces, hardSplit(block, c.maxChunkSize)...)
			continue
		}

		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(block)
	}
	flush()

	return pieces
}

// parseBlocks splits text into paragraphs, keeping each fenced code block as
// a single atomic block.
func parseBlocks(text string) []string {
	lines := strings.Split(text, "\n")

	var blocks []string
	var cur []string
	inFence := false

	flush := func() {
		block := strings.TrimRight(strings.Join(cur, "\n"), "\n ")
		if strings.TrimSpace(block) != "" {
			blocks = append(blocks, block)
		}
		cur = cur[:0]
	}

	for _, line := range lines {
		if _, ok := fenceDelimiter(line); ok {
			if !inFence {
				flush()
				inFence = true
			} else {
				cur = append(cur, line)
				inFence = false
				flush()
				continue
			}
		}
		if !inFence && strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()

	return blocks
}

// isFencedBlock reports whether block is a fenced code block.
func isFencedBlock(block string) bool {
	_, ok := fenceDelimiter(block)
	return ok
}

// runeCut returns the largest index not exceeding n at which s can be cut
// without splitting a multi-byte rune.
func runeCut(s string, n int) int {
	if n >= len(s) {
		return len(s)
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}

// hardSplit cuts text into budget-sized pieces, breaking at the last
// whitespace inside the budget when one exists. Cuts always land on rune
// boundaries.
func hardSplit(text string, budget int) []string {
	var pieces []string
	for len(text) > budget {
		cut := runeCut(text, budget)
		if i := strings.LastIndexAny(text[:cut], " \n"); i > budget/2 {
			cut = i
		}
		if cut == 0 {
			_, cut = utf8.DecodeRuneInString(text)
		}
		pieces = append(pieces, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		pieces = append(pieces, text)
	}
	return pieces
}

// extractTitle derives a chunk title: the governing heading, then the first
// heading in the body, then the first body line, finally a slug derived from
// the URL.
func extractTitle(heading, body, url string) string {
	if heading != "" {
		return heading
	}

	if m := headingRe.FindStringSubmatch(body); m != nil {
		return cleanHeaderText(m[2])
	}

	firstLine := strings.TrimSpace(strings.SplitN(body, "\n", 2)[0])
	if firstLine != "" {
		if len(firstLine) > maxTitleLength {
			return firstLine[:runeCut(firstLine, maxTitleLength-3)] + "..."
		}
		return firstLine
	}

	return titleFromURL(url)
}

// titleFromURL turns the final URL segment into a readable title.
func titleFromURL(url string) string {
	slug := url
	if i := strings.LastIndexByte(slug, '/'); i >= 0 {
		slug = slug[i+1:]
	}
	slug = strings.TrimSuffix(slug, ".html")
	slug = strings.TrimSuffix(slug, ".md")
	slug = strings.ReplaceAll(slug, "-", " ")
	slug = strings.ReplaceAll(slug, "_", " ")
	if slug == "" {
		return "Untitled"
	}
	return slug
}

// extractSummary returns the first paragraph of body, skipping heading
// lines, truncated to the configured length.
func (c *Chunker) extractSummary(body string) string {
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		if _, _, isHeading := parseHeading(strings.SplitN(block, "\n", 2)[0]); isHeading {
			// Use the text under the heading when the block carries more
			// than the heading line itself.
			parts := strings.SplitN(block, "\n", 2)
			if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
				continue
			}
			block = strings.TrimSpace(parts[1])
		}
		block = strings.Join(strings.Fields(block), " ")
		if len(block) > c.summaryLength {
			return block[:runeCut(block, c.summaryLength-3)] + "..."
		}
		return block
	}

	// Headings only: fall back to the start of the body.
	s := strings.Join(strings.Fields(body), " ")
	if len(s) > c.summaryLength {
		return s[:runeCut(s, c.summaryLength-3)] + "..."
	}
	return s
}
