package document

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxContextLen caps the assembled context in runes. Matches are already
// ranked, so lower-ranked sections are the ones dropped when the budget
// runs out.
const maxContextLen = 16000

// FormatForLLM renders matches as a context block for the language model.
// Each match becomes a numbered document section with its source file and
// similarity percentage; sections are separated by a horizontal rule. With
// no matches it returns a fixed "nothing found" sentence so the model can
// say so instead of hallucinating.
func FormatForLLM(matches []Match) string {
	if len(matches) == 0 {
		return emptyContext
	}

	total := 0
	parts := make([]string, 0, len(matches))
	for i, m := range matches {
		filename := m.Metadata.Filename
		if filename == "" {
			filename = "unknown"
		}
		section := fmt.Sprintf(
			"[Documento %d]\nArquivo: %s\nSimilaridade: %.2f%%\nConteúdo:\n%s\n",
			i+1, filename, m.Similarity*100, m.Content,
		)
		n := utf8.RuneCountInString(section)
		if i > 0 && total+n > maxContextLen {
			break
		}
		total += n
		parts = append(parts, section)
	}
	return strings.Join(parts, "\n---\n")
}
