package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildArtifactJSONSchema returns the CV artifact schema as a generic map.
// It is sent to the model as guidance and used locally to validate replies.
func BuildArtifactJSONSchema() map[string]any {
	str := map[string]any{"type": "string"}
	year := map[string]any{"type": "integer", "minimum": 1900, "maximum": 2100}
	strList := map[string]any{"type": "array", "items": str}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"contact", "education", "experience", "skills"},
		"properties": map[string]any{
			"name": str,
			"contact": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"email":    str,
					"phone":    str,
					"linkedin": str,
				},
			},
			"professional_summary": str,
			"education": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"institution"},
					"properties": map[string]any{
						"institution":     map[string]any{"type": "string", "minLength": 1},
						"degree":          str,
						"major":           str,
						"graduation_year": year,
					},
				},
			},
			"experience": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"job_title", "company"},
					"properties": map[string]any{
						"job_title":   map[string]any{"type": "string", "minLength": 1},
						"company":     str,
						"start_date":  str,
						"end_date":    str,
						"description": str,
					},
				},
			},
			"skills": strList,
			"certifications": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"name"},
					"properties": map[string]any{
						"name":   map[string]any{"type": "string", "minLength": 1},
						"issuer": str,
						"year":   year,
					},
				},
			},
			"languages": strList,
		},
	}
}

var artifactSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return compileSchema(BuildArtifactJSONSchema())
})

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// ValidateArtifactJSON validates data against the artifact schema.
func ValidateArtifactJSON(data []byte) error {
	schema, err := artifactSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
