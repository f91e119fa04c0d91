package knowledge

import (
	"fmt"
	"strings"

	"github.com/capitalize-ai/agent-platform/internal/model"
)

const contextInstruction = "Answer using the knowledge context above. " +
	"If the context does not contain the information needed, say so instead of guessing."

// AssemblePrompt appends the ranked context to the agent's system prompt.
// An empty context returns base unchanged.
func AssemblePrompt(base string, rc model.RagContext, settings *model.RAGSettings) string {
	if rc.Empty() {
		return base
	}
	includeMetadata := settings != nil && settings.IncludeMetadata

	var sb strings.Builder
	sb.WriteString(base)
	if base != "" {
		sb.WriteString("\n\n")
	}
	sb.WriteString("<knowledge_context>\n")
	for i, sc := range rc.Chunks {
		fmt.Fprintf(&sb, "[%d]", i+1)
		if includeMetadata {
			sb.WriteString(" ")
			sb.WriteString(sourceLabel(sc))
		}
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(sc.Chunk.Content))
		sb.WriteString("\n\n")
	}
	sb.WriteString("</knowledge_context>\n\n")
	sb.WriteString(contextInstruction)
	return sb.String()
}

func sourceLabel(sc model.ScoredChunk) string {
	label := fmt.Sprintf("(source: %s, chunk %d", sc.Chunk.KnowledgeSourceID, sc.Chunk.Metadata.ChunkIndex)
	if sc.Chunk.Metadata.PageNumber != nil {
		label += fmt.Sprintf(", page %d", *sc.Chunk.Metadata.PageNumber)
	}
	return label + fmt.Sprintf(", relevance %.2f)", sc.Score)
}
