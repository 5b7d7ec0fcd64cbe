package extraction

import (
	"encoding/json"
	"fmt"
	"strings"

	"finrep/internal/domain"
)

const jsonOnly = `Return ONLY valid JSON with no markdown formatting, no code fences, no explanation. Just the raw JSON object.`

// BuildExtractionPrompt wraps an agent's prompt with the section context and output contract.
func BuildExtractionPrompt(agentPrompt string, section domain.SectionKind, pages []int, expectedFields []string) string {
	var b strings.Builder
	b.WriteString("You are a financial report data extraction assistant. The attached images are pages ")
	b.WriteString(formatPages(pages))
	fmt.Fprintf(&b, " of an annual report, classified as the %q section.\n\n", section)

	b.WriteString(strings.TrimSpace(agentPrompt))
	b.WriteString("\n\nIMPORTANT INSTRUCTIONS:\n")
	b.WriteString("- Extract values exactly as printed. Keep amounts as numbers without currency symbols or thousands separators.\n")
	b.WriteString("- Negative amounts shown in parentheses or with a minus sign must be negative numbers.\n")
	b.WriteString("- Omit a field rather than guessing when it is not present on these pages.\n")
	if len(expectedFields) > 0 {
		b.WriteString("- Use these field names as keys where the values exist: ")
		b.WriteString(strings.Join(expectedFields, ", "))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(jsonOnly)
	b.WriteString("\n\nReturn a single top-level key \"data\" holding the extracted object.")
	return b.String()
}

// BuildEvaluationPrompt asks the evaluator to grade an extraction and propose a better prompt.
func BuildEvaluationPrompt(section domain.SectionKind, data map[string]any, expectedFields []string, prompt string) string {
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		encoded = []byte("{}")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are reviewing a structured extraction of the %q section of an annual report.\n\n", section)
	b.WriteString("Expected fields:\n")
	for _, f := range expectedFields {
		b.WriteString("- ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	b.WriteString("\nExtraction prompt that was used:\n---\n")
	b.WriteString(strings.TrimSpace(prompt))
	b.WriteString("\n---\n\nExtracted data:\n")
	b.Write(encoded)
	b.WriteString(`

Score the extraction between 0.0 and 1.0 for completeness and plausibility of the expected fields.
List expected fields that are absent in "missing_fields" and fields whose values look wrong in "incorrect_fields".
If the prompt can be improved, return the full improved prompt in "improved_prompt". Keep every instruction of
the existing prompt and only add to it. Leave "improved_prompt" empty when no change is needed.

`)
	b.WriteString(jsonOnly)
	b.WriteString(`

{
  "accuracy_score": 0.0,
  "missing_fields": [],
  "incorrect_fields": [],
  "improved_prompt": ""
}`)
	return b.String()
}

func formatPages(pages []int) string {
	if len(pages) == 0 {
		return "(none)"
	}
	if len(pages) == 1 {
		return fmt.Sprintf("%d", pages[0])
	}
	contiguous := true
	for i := 1; i < len(pages); i++ {
		if pages[i] != pages[i-1]+1 {
			contiguous = false
			break
		}
	}
	if contiguous {
		return fmt.Sprintf("%d-%d", pages[0], pages[len(pages)-1])
	}
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = fmt.Sprintf("%d", p)
	}
	return strings.Join(parts, ", ")
}
