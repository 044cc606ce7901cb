package extract

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"strconv"
	"strings"
)

var (
	topLevelKeys = map[string]struct{}{
		"name": {}, "contact": {}, "professional_summary": {}, "education": {},
		"experience": {}, "skills": {}, "certifications": {}, "languages": {},
	}
	contactKeys = map[string]struct{}{"email": {}, "phone": {}, "linkedin": {}}
	itemKeys    = map[string]map[string]struct{}{
		"education":      {"institution": {}, "degree": {}, "major": {}, "graduation_year": {}},
		"experience":     {"job_title": {}, "company": {}, "start_date": {}, "end_date": {}, "description": {}},
		"certifications": {"name": {}, "issuer": {}, "year": {}},
	}
	itemRequired = map[string][]string{
		"education":      {"institution"},
		"experience":     {"job_title", "company"},
		"certifications": {"name"},
	}
	yearKeys = map[string]struct{}{"graduation_year": {}, "year": {}}
)

// SanitizeArtifactJSON massages a model reply toward the artifact schema:
//   - renames known synonyms (summary -> professional_summary)
//   - drops nulls, empty strings and unknown keys
//   - coerces years to integers and comma strings to lists
//   - drops list items missing their required fields
//
// It returns the cleaned JSON and a list describing what was dropped.
func SanitizeArtifactJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	var dropped []string
	rename := func(obj map[string]any, from, to string) {
		if v, ok := obj[from]; ok {
			if _, exists := obj[to]; !exists {
				obj[to] = v
			}
			delete(obj, from)
			dropped = append(dropped, from+"->"+to)
		}
	}

	rename(m, "summary", "professional_summary")
	rename(m, "work_experience", "experience")
	rename(m, "full_name", "name")

	contact, _ := m["contact"].(map[string]any)
	if contact == nil {
		contact = map[string]any{}
	}
	rename(contact, "linkedin_url", "linkedin")
	rename(contact, "phone_number", "phone")
	dropped = append(dropped, cleanObject("contact.", contact, contactKeys)...)
	m["contact"] = contact

	for _, k := range []string{"skills", "languages"} {
		list, d := stringList(m[k])
		m[k] = list
		dropped = append(dropped, prefixAll(k+".", d)...)
	}

	for k, allowed := range itemKeys {
		items, _ := m[k].([]any)
		kept := make([]any, 0, len(items))
		for i, it := range items {
			obj, ok := it.(map[string]any)
			if !ok {
				dropped = append(dropped, fmt.Sprintf("%s[%d](type)", k, i))
				continue
			}
			dropped = append(dropped, cleanObject(fmt.Sprintf("%s[%d].", k, i), obj, allowed)...)
			if missing := firstMissing(obj, itemRequired[k]); missing != "" {
				dropped = append(dropped, fmt.Sprintf("%s[%d](missing %s)", k, i, missing))
				continue
			}
			kept = append(kept, obj)
		}
		if k == "certifications" && len(kept) == 0 {
			delete(m, k)
			continue
		}
		m[k] = kept
	}

	for k, v := range m {
		if _, ok := topLevelKeys[k]; !ok {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
			continue
		}
		if s, ok := v.(string); ok {
			if s = strings.TrimSpace(s); s == "" {
				delete(m, k)
			} else {
				m[k] = s
			}
		} else if v == nil {
			delete(m, k)
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Debug("extract.llm.sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}

// cleanObject trims strings, drops null/empty/unknown keys and coerces years.
func cleanObject(prefix string, obj map[string]any, allowed map[string]struct{}) []string {
	var dropped []string
	for k, v := range maps.Clone(obj) {
		if _, ok := allowed[k]; !ok {
			delete(obj, k)
			dropped = append(dropped, prefix+k+"(unknown)")
			continue
		}
		if _, isYear := yearKeys[k]; isYear {
			if y, ok := coerceYear(v); ok {
				obj[k] = y
			} else {
				delete(obj, k)
				if v != nil {
					dropped = append(dropped, prefix+k+"(year)")
				}
			}
			continue
		}
		switch t := v.(type) {
		case nil:
			delete(obj, k)
		case string:
			if s := strings.TrimSpace(t); s == "" || strings.EqualFold(s, "null") {
				delete(obj, k)
			} else {
				obj[k] = s
			}
		case float64:
			obj[k] = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			delete(obj, k)
			dropped = append(dropped, prefix+k+"(type)")
		}
	}
	return dropped
}

func coerceYear(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) && t >= 1900 && t <= 2100 {
			return int(t), true
		}
	case string:
		s := strings.TrimSpace(t)
		if m := reYear.FindString(s); m != "" {
			y, err := strconv.Atoi(m)
			return y, err == nil
		}
	}
	return 0, false
}

func stringList(v any) ([]any, []string) {
	var dropped []string
	var raw []any
	switch t := v.(type) {
	case nil:
	case string:
		for _, s := range splitList(t) {
			raw = append(raw, s)
		}
	case []any:
		raw = t
	default:
		dropped = append(dropped, "(type)")
	}
	out := make([]any, 0, len(raw))
	for i, it := range raw {
		s, ok := it.(string)
		if !ok {
			dropped = append(dropped, fmt.Sprintf("[%d](type)", i))
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, dropped
}

func firstMissing(obj map[string]any, required []string) string {
	for _, k := range required {
		if s, ok := obj[k].(string); !ok || s == "" {
			return k
		}
	}
	return ""
}

func prefixAll(prefix string, in []string) []string {
	for i := range in {
		in[i] = prefix + in[i]
	}
	return in
}
