// Package ingest implements the ingestion worker: claim a queue item, fetch
// its source, apply the source's extraction policy, chunk, embed, and store.
package ingest

import (
	"strings"

	"github.com/quarryhq/quarry/internal/registry"
)

// codeMarkers are the syntax fragments counted as code indicators when a
// block is too short for the length threshold. Distinct markers count, not
// occurrences, so a wall of semicolons is one indicator.
var codeMarkers = []string{
	":=", "=>", "->", "::",
	"func ", "def ", "class ", "fn ", "var ", "const ",
	"import ", "return ", "package ",
	"();", "{}", "()",
	"</", "/>",
	"#!/",
	"==", "!=",
	";",
}

// countIndicators returns how many distinct code markers appear in the block.
func countIndicators(block string) int {
	n := 0
	for _, marker := range codeMarkers {
		if strings.Contains(block, marker) {
			n++
		}
	}

	return n
}

// indicatorThreshold shifts the policy's marker minimum by strategy:
// aggressive keeps more (lower bar), conservative keeps less (higher bar).
// The floor is 1 so aggressive never degenerates to keep-everything.
func indicatorThreshold(policy registry.ExtractionPolicy) int {
	threshold := policy.CodeIndicatorsMin
	switch policy.Strategy {
	case registry.StrategyAggressive:
		threshold--
	case registry.StrategyConservative:
		threshold++
	}

	return max(threshold, 1)
}

// keepCodeBlock applies the policy's retention rule: a block survives when
// it meets the length floor, or when small snippets are enabled and it
// carries enough distinct code markers.
func keepCodeBlock(block string, policy registry.ExtractionPolicy) bool {
	if len(block) >= policy.MinCodeLength {
		return true
	}
	if !policy.EnableSmallSnippets {
		return false
	}

	return countIndicators(block) >= indicatorThreshold(policy)
}

// Segment is one extracted piece of a fetched document.
type Segment struct {
	Text   string
	IsCode bool
}

// Extract partitions fetched markdown-ish content into fenced code blocks
// and prose, then applies the policy: code blocks pass keepCodeBlock, prose
// passes a boilerplate filter unless the policy skips it. Segment order
// follows document order.
func Extract(doc string, policy registry.ExtractionPolicy) []Segment {
	var segments []Segment

	flushProse := func(prose string) {
		for _, para := range splitParagraphs(prose) {
			if policy.SkipProseFilter || keepProse(para) {
				segments = append(segments, Segment{Text: para})
			}
		}
	}

	rest := doc
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			break
		}

		fenceBody := rest[start+3:]
		end := strings.Index(fenceBody, "```")
		if end < 0 {
			break
		}

		flushProse(rest[:start])

		block := strings.TrimSpace(stripInfoString(fenceBody[:end]))
		if block != "" && keepCodeBlock(block, policy) {
			segments = append(segments, Segment{Text: block, IsCode: true})
		}

		rest = fenceBody[end+3:]
	}
	flushProse(rest)

	return segments
}

// stripInfoString drops the language tag line of a fenced block ("go",
// "python", ...) when one is present.
func stripInfoString(body string) string {
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		info := strings.TrimSpace(body[:nl])
		if info != "" && !strings.ContainsAny(info, " \t") && len(info) <= 20 {
			return body[nl+1:]
		}
	}

	return body
}

func splitParagraphs(prose string) []string {
	var paras []string
	for _, para := range strings.Split(prose, "\n\n") {
		para = strings.TrimSpace(para)
		if para != "" {
			paras = append(paras, para)
		}
	}

	return paras
}

// keepProse drops navigation boilerplate: very short fragments and
// paragraphs that are mostly link markup.
func keepProse(para string) bool {
	if len(para) < 40 {
		return false
	}

	links := strings.Count(para, "](")
	words := len(strings.Fields(para))

	return words == 0 || links*4 < words
}
