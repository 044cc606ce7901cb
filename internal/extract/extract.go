package extract

import (
	"context"
	"errors"
	"strings"

	"github.com/joseph-ayodele/docqueue/internal/entity"
)

// ErrEmptyContent is returned when there is no text to extract from.
var ErrEmptyContent = errors.New("empty document content")

// Extractor turns loaded document text into a structured artifact.
type Extractor interface {
	Extract(ctx context.Context, content string) (*entity.Artifact, error)
}

// Named is implemented by extractors that label the artifacts they produce.
type Named interface {
	Name() string
}

func nameOf(e Extractor) string {
	if n, ok := e.(Named); ok {
		return n.Name()
	}
	return ""
}

// isSparse reports whether a has neither identity nor history worth keeping
// on its own, in which case gaps are filled from the next extractor.
func isSparse(a *entity.Artifact) bool {
	emptyMain := strings.TrimSpace(a.Name) == "" &&
		a.Contact == (entity.Contact{}) &&
		strings.TrimSpace(a.ProfessionalSummary) == ""
	return emptyMain || (len(a.Experience) == 0 && len(a.Education) == 0)
}

// fillGaps copies fields from src into dst where dst is empty.
func fillGaps(dst, src *entity.Artifact) {
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.Contact.Email == "" {
		dst.Contact.Email = src.Contact.Email
	}
	if dst.Contact.Phone == "" {
		dst.Contact.Phone = src.Contact.Phone
	}
	if dst.Contact.LinkedIn == "" {
		dst.Contact.LinkedIn = src.Contact.LinkedIn
	}
	if dst.ProfessionalSummary == "" {
		dst.ProfessionalSummary = src.ProfessionalSummary
	}
	if len(dst.Education) == 0 {
		dst.Education = src.Education
	}
	if len(dst.Experience) == 0 {
		dst.Experience = src.Experience
	}
	if len(dst.Skills) == 0 {
		dst.Skills = src.Skills
	}
	if len(dst.Certifications) == 0 {
		dst.Certifications = src.Certifications
	}
	if len(dst.Languages) == 0 {
		dst.Languages = src.Languages
	}
}

// ensureLists replaces nil slices so artifacts always serialize lists as [].
func ensureLists(a *entity.Artifact) {
	if a.Education == nil {
		a.Education = []entity.Education{}
	}
	if a.Experience == nil {
		a.Experience = []entity.Experience{}
	}
	if a.Skills == nil {
		a.Skills = []string{}
	}
}
