package fusion

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/fusionrag/pkg/types"
)

var groupTitles = map[types.SourceType]string{
	types.SourceDocument:    "Documents",
	types.SourceChatHistory: "Conversation history",
	types.SourceRecord:      "Public records",
	types.SourceWeb:         "Web results",
}

var sourceLabels = map[types.SourceType]string{
	types.SourceDocument:    "document",
	types.SourceChatHistory: "conversation",
	types.SourceRecord:      "record",
	types.SourceWeb:         "web",
}

// Render formats entries as prompt context. Markers are 1-based positions in
// entries.
func (e *Engine) Render(entries []types.Candidate, persona types.PersonaSelection) string {
	var b strings.Builder
	b.WriteString("## Sources\n")

	if len(entries) == 0 {
		b.WriteString("\nNo supporting sources were found.\n")
	}

	for _, st := range types.AllSourceTypes {
		first := true
		for i, c := range entries {
			if c.SourceType() != st {
				continue
			}
			if first {
				fmt.Fprintf(&b, "\n### %s\n", groupTitles[st])
				first = false
			}
			writeEntry(&b, i+1, c)
		}
	}

	b.WriteString("\n")
	b.WriteString(e.instructions(persona))
	return b.String()
}

func writeEntry(b *strings.Builder, marker int, c types.Candidate) {
	fmt.Fprintf(b, "[%d] (%s)", marker, sourceLabels[c.SourceType()])
	switch p := c.Payload().(type) {
	case types.RecordPayload:
		if p.ProtocolNumber != "" {
			fmt.Fprintf(b, " prot. %s", p.ProtocolNumber)
		}
		if p.RecordType != "" {
			fmt.Fprintf(b, " [%s]", p.RecordType)
		}
	case types.WebPayload:
		fmt.Fprintf(b, " %s", p.URL)
	case types.ChatPayload:
		fmt.Fprintf(b, " %s", p.Role)
	}
	if title := c.Title(); title != "" {
		fmt.Fprintf(b, " %s", title)
	}
	b.WriteString("\n")
	for _, line := range strings.Split(strings.TrimSpace(c.Text()), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			b.WriteString("    ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
}

// instructions tells the model how to weigh and cite the sources
func (e *Engine) instructions(persona types.PersonaSelection) string {
	weights := e.WeightsFor(persona.PersonaID())
	order := make([]types.SourceType, 0, len(weights))
	for st := range weights {
		order = append(order, st)
	}
	sort.SliceStable(order, func(i, j int) bool {
		if weights[order[i]] != weights[order[j]] {
			return weights[order[i]] > weights[order[j]]
		}
		return order[i] < order[j]
	})

	var b strings.Builder
	b.WriteString("## Instructions\n")
	if len(order) > 0 {
		fmt.Fprintf(&b, "Prioritize %s sources over the others. ", sourceLabels[order[0]])
	}
	b.WriteString("Cite sources with their [n] marker whenever you use or compare them. ")
	b.WriteString("If the sources do not answer the question, say so.\n")
	if e.personas != nil {
		if instr := strings.TrimSpace(e.personas.Instruction(persona.PersonaID())); instr != "" {
			b.WriteString(instr)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// frameTokens bounds the summary text that is not per-entry: the empty
// rendering, or the headers, every group title and the instructions.
func (e *Engine) frameTokens(persona types.PersonaSelection) int {
	instr := e.instructions(persona)
	full := len("## Sources\n") + len("\n") + len(instr)
	for _, title := range groupTitles {
		full += len("\n### " + title + "\n")
	}
	return ceilTokens(max(full, len(e.Render(nil, persona))))
}

// entryTokens is the packing cost of c rendered with the given marker. It
// never undercuts the candidate's own estimate.
func entryTokens(marker int, c types.Candidate) int {
	var b strings.Builder
	writeEntry(&b, marker, c)
	return max(c.TokenCost(), ceilTokens(b.Len()))
}

// ceilTokens rounds the chars/4 estimate up so that per-part costs add up to
// at least the estimate of the whole text.
func ceilTokens(n int) int {
	return (n + 3) / 4
}
