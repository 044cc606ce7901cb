package extract

import (
	"encoding/json"
	"strings"

	"github.com/joseph-ayodele/docqueue/internal/entity"
)

// promptWindow caps how much of a document is sent to the model.
const promptWindow = 4000

// BuildSystemPrompt composes the system message: role, schema and formatting rules.
func BuildSystemPrompt() string {
	parts := []string{
		"You are a CV parser. Return ONLY JSON that matches the provided JSON Schema.",
		"Fill name, contact, professional_summary, education, experience, skills, certifications and languages.",
		"Use the PREFILL contact values where available.",
		"Dates in experience may be free text such as 'Jan 2020' or 'Present'. Years are integers.",
		"Skills are technical skills, programming languages, software and tools. Languages are human languages.",
		"Never output null. If a field cannot be determined from the CV, omit it. Do not invent data.",
		"JSON Schema:\n" + mustJSON(BuildArtifactJSONSchema()),
	}
	return strings.Join(parts, "\n")
}

// BuildUserPrompt packages the deterministic contact prefill with a window of the CV text.
func BuildUserPrompt(prefill entity.Contact, text string) string {
	rs := []rune(text)
	if len(rs) > promptWindow {
		rs = rs[:promptWindow]
	}

	var b strings.Builder
	b.WriteString("PREFILL: ")
	b.WriteString(mustJSON(map[string]any{"contact": prefill}))
	b.WriteString("\n\nCV_EXCERPT:\n")
	b.WriteString(string(rs))
	b.WriteString("\n\nReturn ONLY JSON that matches the provided schema.")
	return b.String()
}

// stripFences removes markdown code fences and anything outside the outermost object.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
