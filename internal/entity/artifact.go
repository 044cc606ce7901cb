package entity

import "strings"

// Contact holds the identity fields dedupe groups on.
type Contact struct {
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	LinkedIn string `json:"linkedin,omitempty"`
}

type Education struct {
	Institution    string `json:"institution"`
	Degree         string `json:"degree,omitempty"`
	Major          string `json:"major,omitempty"`
	GraduationYear int    `json:"graduation_year,omitempty"`
}

type Experience struct {
	JobTitle    string `json:"job_title"`
	Company     string `json:"company"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
	Description string `json:"description,omitempty"`
}

type Certification struct {
	Name   string `json:"name"`
	Issuer string `json:"issuer,omitempty"`
	Year   int    `json:"year,omitempty"`
}

// Artifact is the structured record extracted from one input document.
type Artifact struct {
	Name                string          `json:"name"`
	Contact             Contact         `json:"contact"`
	ProfessionalSummary string          `json:"professional_summary,omitempty"`
	Education           []Education     `json:"education"`
	Experience          []Experience    `json:"experience"`
	Skills              []string        `json:"skills"`
	Certifications      []Certification `json:"certifications,omitempty"`
	Languages           []string        `json:"languages,omitempty"`
	Source              *SourceInfo     `json:"source,omitempty"`
}

// SourceInfo records where an artifact came from.
type SourceInfo struct {
	FileName  string `json:"file_name"`
	Path      string `json:"path"`
	FileType  string `json:"file_type"`
	Extractor string `json:"extractor,omitempty"`
}

// NormalizeEmail lower-cases and trims an email for identity comparison.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizePhone keeps only digits and '+'.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
