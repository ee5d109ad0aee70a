package phi

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/miradorstack/mirador-phiguard/internal/models"
)

// Matcher finds spans of one category in a document.
type Matcher interface {
	ID() string
	Category() models.Category
	MinSensitivity() models.Sensitivity
	Find(text string) []models.Detection
}

const defaultContextWindow = 32

// regexMatcher reports a regular-expression match, or one of its capture groups, as a detection.
type regexMatcher struct {
	id         string
	category   models.Category
	re         *regexp.Regexp
	group      int
	confidence float64
	minLevel   models.Sensitivity
	validate   func(string) bool
	// context terms, one of which must appear within window bytes before the match.
	context []string
	window  int
}

func (m *regexMatcher) ID() string                         { return m.id }
func (m *regexMatcher) Category() models.Category          { return m.category }
func (m *regexMatcher) MinSensitivity() models.Sensitivity { return m.minLevel }

func (m *regexMatcher) Find(text string) []models.Detection {
	var out []models.Detection
	for _, loc := range m.re.FindAllStringSubmatchIndex(text, -1) {
		if 2*m.group+1 >= len(loc) {
			continue
		}
		start, end := loc[2*m.group], loc[2*m.group+1]
		if start < 0 || end <= start {
			continue
		}
		if m.validate != nil && !m.validate(text[start:end]) {
			continue
		}
		if len(m.context) > 0 && !hasContext(text, loc[0], m.window, m.context) {
			continue
		}
		out = append(out, models.Detection{
			Category:   m.category,
			Start:      start,
			End:        end,
			Confidence: m.confidence,
			RuleID:     m.id,
		})
	}
	return out
}

// nameMatcher finds person names. Titled matchers capture the words after a title or
// trigger phrase; the capitalised-pair variant accepts any run of two or more capitalised words.
type nameMatcher struct {
	id         string
	re         *regexp.Regexp
	group      int
	confidence float64
	minLevel   models.Sensitivity
	minWords   int
	ex         *exclusionSet
}

func (m *nameMatcher) ID() string                         { return m.id }
func (m *nameMatcher) Category() models.Category          { return models.CategoryName }
func (m *nameMatcher) MinSensitivity() models.Sensitivity { return m.minLevel }

var capitalisedWord = regexp.MustCompile(`[A-Z][a-z]+`)

func (m *nameMatcher) Find(text string) []models.Detection {
	var out []models.Detection
	for _, loc := range m.re.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[2*m.group], loc[2*m.group+1]
		if start < 0 || end <= start {
			continue
		}
		start, end, ok := m.trim(text, start, end)
		if !ok || m.ex.suppress(text, start, end) {
			continue
		}
		out = append(out, models.Detection{
			Category:   models.CategoryName,
			Start:      start,
			End:        end,
			Confidence: m.confidence,
			RuleID:     m.id,
		})
	}
	return out
}

// trim drops stopwords from both ends of a span and enforces the minimum word count.
func (m *nameMatcher) trim(text string, start, end int) (int, int, bool) {
	words := capitalisedWord.FindAllStringIndex(text[start:end], -1)
	for len(words) > 0 && m.ex.isStopword(text[start+words[0][0]:start+words[0][1]]) {
		words = words[1:]
	}
	for len(words) > 0 {
		last := words[len(words)-1]
		if !m.ex.isStopword(text[start+last[0] : start+last[1]]) {
			break
		}
		words = words[:len(words)-1]
	}
	if len(words) < m.minWords || len(words) == 0 {
		return 0, 0, false
	}
	return start + words[0][0], start + words[len(words)-1][1], true
}

// exclusionSet holds the normalised suppression data of a rule pack.
type exclusionSet struct {
	terms     []string
	preceding []string
	trailing  map[string]struct{}
	stopwords map[string]struct{}
}

func newExclusionSet(ex Exclusions) *exclusionSet {
	set := &exclusionSet{
		terms:     lowerAll(ex.Terms),
		preceding: lowerAll(ex.PrecedingTerms),
		trailing:  make(map[string]struct{}),
		stopwords: make(map[string]struct{}),
	}
	for _, t := range lowerAll(ex.TrailingTerms) {
		set.trailing[t] = struct{}{}
	}
	for _, s := range lowerAll(ex.Stopwords) {
		set.stopwords[s] = struct{}{}
	}
	return set
}

func (x *exclusionSet) isStopword(word string) bool {
	_, ok := x.stopwords[strings.ToLower(word)]
	return ok
}

// suppress reports whether the span looks like terminology rather than a person's name.
func (x *exclusionSet) suppress(text string, start, end int) bool {
	span := strings.ToLower(text[start:end])
	for _, term := range x.terms {
		if strings.Contains(span, term) {
			return true
		}
	}

	words := strings.Fields(span)
	if len(words) > 0 {
		if _, ok := x.trailing[words[len(words)-1]]; ok {
			return true
		}
	}
	// The word immediately after the span counts as a suffix too ("John Hopkins Hospital"
	// where only the first words were captured).
	if next := nextWord(text, end); next != "" {
		if _, ok := x.trailing[strings.ToLower(next)]; ok {
			return true
		}
	}

	from := start - 48
	if from < 0 {
		from = 0
	}
	before := strings.Join(strings.Fields(strings.ToLower(text[from:start])), " ")
	for _, term := range x.preceding {
		if strings.HasSuffix(before, term) {
			return true
		}
	}
	return false
}

func nextWord(text string, end int) string {
	rest := strings.TrimLeft(text[end:], " \t")
	stop := strings.IndexFunc(rest, func(r rune) bool { return !unicode.IsLetter(r) })
	if stop < 0 {
		return rest
	}
	return rest[:stop]
}

func hasContext(text string, start, window int, terms []string) bool {
	if window <= 0 {
		window = defaultContextWindow
	}
	from := start - window
	if from < 0 {
		from = 0
	}
	before := strings.ToLower(text[from:start])
	for _, term := range terms {
		if strings.Contains(before, term) {
			return true
		}
	}
	return false
}

func containsDigit(value string) bool {
	return strings.ContainsAny(value, "0123456789")
}

const keyedValue = `(?:\s*(?:number|num|no\.?|#))?\s*[:#]?\s*([A-Z0-9][A-Z0-9-]{2,})`

// builtinMatchers returns the fixed matcher set in evaluation order.
func builtinMatchers(ex *exclusionSet) []Matcher {
	regexRule := func(id string, category models.Category, pattern string, group int, confidence float64, level models.Sensitivity) *regexMatcher {
		return &regexMatcher{
			id:         id,
			category:   category,
			re:         regexp.MustCompile(pattern),
			group:      group,
			confidence: confidence,
			minLevel:   level,
		}
	}
	withDigit := func(m *regexMatcher) *regexMatcher {
		m.validate = containsDigit
		return m
	}

	govIDBare := regexRule("government_id_bare", models.CategoryGovernmentID, `\b\d{9}\b`, 0, 0.85, models.SensitivityMinimal)
	govIDBare.context = []string{"ssn", "social security", "tax id", "tin", "national id"}

	return []Matcher{
		regexRule("email", models.CategoryEmail,
			`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, 0, 0.99, models.SensitivityMinimal),
		regexRule("ssn", models.CategoryGovernmentID,
			`\b\d{3}-\d{2}-\d{4}\b`, 0, 0.95, models.SensitivityMinimal),
		govIDBare,
		regexRule("url", models.CategoryURL,
			`\b(?:https?://|www\.)[^\s<>"']*[^\s<>"'.,;:!?)]`, 0, 0.95, models.SensitivityMinimal),
		regexRule("phone", models.CategoryPhone,
			`(?:\+?1[ .-]?)?(?:\(\d{3}\)[ .-]?|\b\d{3}[ .-])\d{3}[ .-]\d{4}\b`, 0, 0.9, models.SensitivityMinimal),
		regexRule("date_of_birth", models.CategoryDateOfBirth,
			`(?i)\b(?:DOB|D\.O\.B\.?|date of birth|birth ?date|born(?: on)?)\s*[:-]?\s*(\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}|\d{4}-\d{1,2}-\d{1,2}|(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4})`,
			1, 0.9, models.SensitivityMinimal),
		regexRule("date", models.CategoryDateOfBirth,
			`\b(?:\d{1,2}/\d{1,2}/\d{2,4}|\d{4}-\d{2}-\d{2})\b`, 0, 0.6, models.SensitivityStrict),
		withDigit(regexRule("medical_record_number", models.CategoryMedicalRecordNumber,
			`(?i)\b(?:MRN|medical record)\b`+keyedValue, 1, 0.9, models.SensitivityMinimal)),
		withDigit(regexRule("account_number", models.CategoryAccountNumber,
			`(?i)\b(?:account|acct|policy|member id|license|licence|insurance id)\b`+keyedValue, 1, 0.85, models.SensitivityMinimal)),
		withDigit(regexRule("device_id", models.CategoryDeviceID,
			`(?i)\b(?:device(?: id)?|serial|S/N|IMEI|UDI)\b`+keyedValue, 1, 0.85, models.SensitivityModerate)),
		regexRule("ip_address", models.CategoryIPAddress,
			`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`, 0, 0.9, models.SensitivityMinimal),
		regexRule("street_address", models.CategoryStreetAddress,
			`\b\d{1,6}(?:[ ]+[A-Z][A-Za-z]+){1,3}[ ]+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct|Way|Place|Pl|Terrace|Parkway|Pkwy|Circle|Cir)\b\.?`,
			0, 0.85, models.SensitivityMinimal),
		regexRule("uuid", models.CategoryUniqueID,
			`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`, 0, 0.8, models.SensitivityModerate),
		withDigit(regexRule("unique_id", models.CategoryUniqueID,
			`(?i)\b(?:patient id|claim|reference|ref|case\s*(?:number|num|no\.?|id|#))`+keyedValue, 1, 0.8, models.SensitivityModerate)),
		&nameMatcher{
			id:         "name_titled",
			re:         regexp.MustCompile(`\b(?:(?i:patient(?:\s+name)?|name(?:\s+is)?|named|called)|Mr|Mrs|Ms|Miss|Dr)\.?:?\s+([A-Z][a-z]+(?:[ ]+[A-Z][a-z]+){0,2})`),
			group:      1,
			confidence: 0.85,
			minLevel:   models.SensitivityMinimal,
			minWords:   1,
			ex:         ex,
		},
		&nameMatcher{
			id:         "name_capitalised_pair",
			re:         regexp.MustCompile(`\b[A-Z][a-z]+(?:[ ]+[A-Z][a-z]+)+\b`),
			confidence: 0.5,
			minLevel:   models.SensitivityStrict,
			minWords:   2,
			ex:         ex,
		},
	}
}
