package rag

import (
	"fmt"
	"strings"
)

// Context sentinels returned when nothing relevant was retrieved.
const (
	NoLoreFound  = "No relevant lore found."
	NoRulesFound = "No relevant rules found."
)

// FormatLoreContext renders chunks as a numbered lore context block.
func FormatLoreContext(chunks []RetrievedChunk) string {
	return format(chunks, "=== Relevant Lore Context ===", NoLoreFound, true)
}

// FormatRulesContext renders chunks as a numbered rules context block.
func FormatRulesContext(chunks []RetrievedChunk) string {
	return format(chunks, "=== Relevant Rules Context ===", NoRulesFound, false)
}

func format(chunks []RetrievedChunk, header, empty string, summaryFallback bool) string {
	if len(chunks) == 0 {
		return empty
	}
	out := []string{header}
	for i, c := range chunks {
		kind := c.Metadata[MetaEntityType]
		if kind == "" {
			kind = "unknown"
		}
		name := c.Metadata[MetaName]
		if name == "" && summaryFallback {
			name = c.Metadata[MetaSummary]
		}
		if name == "" {
			name = "Unknown"
		}
		out = append(out,
			fmt.Sprintf("\n[%d] %s: %s", i+1, strings.ToUpper(kind), name),
			"    "+c.Text,
			fmt.Sprintf("    (Relevance: %.3f)", c.Score),
		)
	}
	return strings.Join(out, "\n")
}
