package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/joseph-ayodele/docqueue/internal/entity"
)

const summaryFallbackChars = 500

var (
	reEmail    = regexp.MustCompile(`[\w.+\-]+@[\w.\-]+\.[A-Za-z]{2,}`)
	rePhone    = regexp.MustCompile(`\+?\d[\d\s\-().]{6,}\d`)
	rePhoneSep = regexp.MustCompile(`[\s\-.]+`)
	reLinkedIn = regexp.MustCompile(`(?i)(https?://)?(www\.)?linkedin\.com/[A-Za-z0-9\-_/]+`)
	reNameLine = regexp.MustCompile(`^[A-Za-z\-']+(\s+[A-Za-z\-']+){1,3}$`)
	reYear     = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	reDegree   = regexp.MustCompile(`(?i)\b(Bachelor|Master|B\.Sc|BSc|M\.Sc|MSc|PhD|Doctor|Diploma|Certificate|Associate|MBA)\b`)
	reInst     = regexp.MustCompile(`(?i)\b(University|Institute|College|Faculty|School|Academy)\b`)
	reMajor    = regexp.MustCompile(`(?i)\bin\s+([A-Za-z &/\-]{2,80})`)
	reDateSpan = regexp.MustCompile(`(?i)((?:(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?[ \t]+)?\d{4})[ \t]*(?:-|–|—|to)[ \t]*((?:(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?[ \t]+)?\d{4}|present|current|now)`)
	reBlankSep = regexp.MustCompile(`\n\s*\n`)
	reSkillSep = regexp.MustCompile(`[•\n,;|\t]`)
	reSkillsLn = regexp.MustCompile(`(?im)^skills?[:\-\s]+(.+)$`)
	reTitleSep = regexp.MustCompile(`\s+(?:at|@|\||-|–|—)\s+|,\s+`)
)

var commonHeadings = map[string]struct{}{
	"SUMMARY": {}, "PROFESSIONAL SUMMARY": {}, "EDUCATION": {}, "EXPERIENCE": {},
	"WORK EXPERIENCE": {}, "PROFESSIONAL EXPERIENCE": {}, "SKILLS": {}, "PROJECTS": {},
	"SELECTED PROJECTS": {}, "PUBLICATIONS": {}, "CERTIFICATIONS": {}, "LANGUAGES": {},
	"AWARDS": {}, "CONTACT": {}, "PROFILE": {},
}

// RulesExtractor is a deterministic, regex driven CV parser. It never calls
// out and is used on its own or as the fallback behind an LLM.
type RulesExtractor struct{}

func NewRulesExtractor() *RulesExtractor { return &RulesExtractor{} }

func (*RulesExtractor) Name() string { return "rules" }

func (r *RulesExtractor) Extract(_ context.Context, content string) (*entity.Artifact, error) {
	text := strings.TrimSpace(strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(content))
	if text == "" {
		return nil, ErrEmptyContent
	}

	sections := splitSections(text)
	a := &entity.Artifact{
		Name:    guessName(text),
		Contact: ExtractContact(text),
	}
	a.ProfessionalSummary = summaryFrom(sections, text)
	a.Skills = skillsFrom(sections, text)
	if s, ok := sections["EDUCATION"]; ok {
		a.Education = parseEducation(s)
	}
	for _, h := range []string{"EXPERIENCE", "WORK EXPERIENCE", "PROFESSIONAL EXPERIENCE"} {
		if s, ok := sections[h]; ok {
			a.Experience = parseExperience(s)
			break
		}
	}
	if s, ok := sections["CERTIFICATIONS"]; ok {
		a.Certifications = parseCertifications(s)
	}
	if s, ok := sections["LANGUAGES"]; ok {
		a.Languages = splitList(s)
	}
	ensureLists(a)
	return a, nil
}

// ExtractContact pulls the first email, phone and LinkedIn URL out of text.
func ExtractContact(text string) entity.Contact {
	var c entity.Contact
	c.Email = reEmail.FindString(text)
	for _, m := range rePhone.FindAllString(text, -1) {
		// year ranges like "2018 - 2020" match the pattern too
		if countDigits(m) < 9 {
			continue
		}
		c.Phone = strings.TrimSpace(rePhoneSep.ReplaceAllString(m, " "))
		break
	}
	c.LinkedIn = reLinkedIn.FindString(text)
	return c
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// guessName looks at the first few lines for something shaped like a name.
func guessName(text string) string {
	var lines []string
	for _, ln := range strings.Split(text, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			lines = append(lines, ln)
		}
		if len(lines) == 6 {
			break
		}
	}
	for _, line := range lines {
		lower := strings.ToLower(line)
		if strings.ContainsAny(line, "@0123456789") ||
			strings.Contains(lower, "linkedin.com") || strings.Contains(lower, "github.com") ||
			strings.Contains(lower, "phone") || strings.Contains(lower, "www.") {
			continue
		}
		if _, heading := commonHeadings[strings.ToUpper(strings.TrimSuffix(line, ":"))]; heading {
			continue
		}
		words := strings.Fields(line)
		if len(words) < 2 || len(words) > 6 {
			continue
		}
		allCased := true
		for _, w := range words {
			if !isTitleWord(w) && !isUpperWord(w) {
				allCased = false
				break
			}
		}
		if allCased || (len(words) <= 4 && reNameLine.MatchString(line)) {
			for i, w := range words {
				words[i] = titleWord(w)
			}
			return strings.Join(words, " ")
		}
	}
	return ""
}

func isTitleWord(w string) bool {
	rs := []rune(w)
	if len(rs) == 0 || !unicode.IsUpper(rs[0]) {
		return false
	}
	for _, r := range rs[1:] {
		if unicode.IsUpper(r) {
			return false
		}
	}
	return true
}

func isUpperWord(w string) bool {
	hasLetter := false
	for _, r := range w {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

func titleWord(w string) string {
	rs := []rune(strings.ToLower(w))
	if len(rs) > 0 {
		rs[0] = unicode.ToUpper(rs[0])
	}
	return string(rs)
}

// splitSections keys section bodies by upper-cased heading. Headings are
// short lines that are a known heading, ALL CAPS, or end with ':'.
func splitSections(text string) map[string]string {
	lines := strings.Split(text, "\n")
	type heading struct {
		idx  int
		name string
	}
	var hs []heading
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || len(strings.Fields(line)) > 6 {
			continue
		}
		cand := strings.TrimSpace(strings.TrimSuffix(line, ":"))
		upper := strings.ToUpper(cand)
		_, known := commonHeadings[upper]
		if known || (len(cand) > 1 && isUpperWord(strings.ReplaceAll(cand, " ", ""))) || strings.HasSuffix(line, ":") {
			hs = append(hs, heading{idx: i, name: upper})
		}
	}
	out := make(map[string]string, len(hs))
	for n, h := range hs {
		end := len(lines)
		if n+1 < len(hs) {
			end = hs[n+1].idx
		}
		if _, seen := out[h.name]; seen {
			continue
		}
		out[h.name] = strings.TrimSpace(strings.Join(lines[h.idx+1:end], "\n"))
	}
	return out
}

func summaryFrom(sections map[string]string, text string) string {
	for _, k := range []string{"SUMMARY", "PROFILE", "PROFESSIONAL SUMMARY"} {
		if s := strings.TrimSpace(sections[k]); s != "" {
			return strings.TrimSpace(reBlankSep.Split(s, 2)[0])
		}
	}
	rs := []rune(text)
	if len(rs) > summaryFallbackChars {
		rs = rs[:summaryFallbackChars]
	}
	return strings.TrimSpace(string(rs))
}

func skillsFrom(sections map[string]string, text string) []string {
	src, ok := sections["SKILLS"]
	if !ok {
		if m := reSkillsLn.FindStringSubmatch(text); m != nil {
			src = m[1]
		}
	}
	var skills []string
	for _, s := range splitList(src) {
		if reYear.MatchString(s) {
			continue
		}
		skills = append(skills, s)
	}
	return skills
}

// splitList splits on bullets, commas and similar delimiters, dropping
// duplicates case-insensitively while preserving order.
func splitList(s string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, p := range reSkillSep.Split(s, -1) {
		p = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(p), "-*·"))
		if len([]rune(p)) < 2 {
			continue
		}
		key := strings.ToLower(p)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

func blocks(s string) []string {
	var out []string
	for _, b := range reBlankSep.Split(s, -1) {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func parseEducation(s string) []entity.Education {
	var out []entity.Education
	for _, b := range blocks(s) {
		var ed entity.Education
		if years := reYear.FindAllString(b, -1); len(years) > 0 {
			ed.GraduationYear, _ = strconv.Atoi(years[len(years)-1])
		}
		if m := reDegree.FindString(b); m != "" {
			ed.Degree = m
		}
		for _, ln := range strings.Split(b, "\n") {
			if ln = strings.TrimSpace(ln); reInst.MatchString(ln) {
				ed.Institution = ln
				break
			}
		}
		if m := reMajor.FindStringSubmatch(b); m != nil {
			ed.Major = strings.TrimSpace(m[1])
		}
		if ed.Degree != "" || ed.Institution != "" || ed.GraduationYear != 0 {
			out = append(out, ed)
		}
	}
	return out
}

func parseExperience(s string) []entity.Experience {
	var out []entity.Experience
	for _, b := range blocks(s) {
		lines := strings.Split(b, "\n")
		head := strings.TrimSpace(lines[0])
		var ex entity.Experience

		rest := lines[1:]
		if m := reDateSpan.FindStringSubmatch(b); m != nil {
			ex.StartDate = strings.TrimSpace(m[1])
			ex.EndDate = strings.TrimSpace(m[2])
			head = strings.TrimSpace(strings.Replace(head, m[0], "", 1))
		}
		if parts := reTitleSep.Split(head, 2); len(parts) == 2 {
			ex.JobTitle = strings.TrimSpace(parts[0])
			ex.Company = strings.TrimSpace(strings.Trim(parts[1], " ,|-"))
		} else {
			ex.JobTitle = head
		}

		var desc []string
		for _, ln := range rest {
			ln = strings.TrimSpace(ln)
			if ln == "" || (ex.StartDate != "" && reDateSpan.MatchString(ln) && len(strings.Fields(ln)) <= 6) {
				continue
			}
			if ex.Company == "" {
				ex.Company = ln
				continue
			}
			desc = append(desc, ln)
		}
		ex.Description = strings.Join(desc, " ")

		if ex.JobTitle != "" && (ex.Company != "" || ex.StartDate != "") {
			out = append(out, ex)
		}
	}
	return out
}

func parseCertifications(s string) []entity.Certification {
	var out []entity.Certification
	for _, ln := range strings.Split(s, "\n") {
		ln = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(ln), "-*•·"))
		if ln == "" {
			continue
		}
		c := entity.Certification{Name: ln}
		if y := reYear.FindString(ln); y != "" {
			c.Year, _ = strconv.Atoi(y)
			c.Name = strings.TrimSpace(strings.Trim(strings.Replace(ln, y, "", 1), " ,-()"))
		}
		out = append(out, c)
	}
	return out
}
