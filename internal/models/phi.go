package models

import (
	"strings"
	"time"
)

// Category enumerates the kinds of identifying content the detector recognises.
type Category string

const (
	CategoryName                Category = "name"
	CategoryGovernmentID        Category = "government_id"
	CategoryDateOfBirth         Category = "date_of_birth"
	CategoryPhone               Category = "phone"
	CategoryEmail               Category = "email"
	CategoryStreetAddress       Category = "street_address"
	CategoryMedicalRecordNumber Category = "medical_record_number"
	CategoryAccountNumber       Category = "account_number"
	CategoryDeviceID            Category = "device_id"
	CategoryURL                 Category = "url"
	CategoryIPAddress           Category = "ip_address"
	CategoryUniqueID            Category = "unique_id"
)

// Categories lists every known category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryName,
		CategoryGovernmentID,
		CategoryDateOfBirth,
		CategoryPhone,
		CategoryEmail,
		CategoryStreetAddress,
		CategoryMedicalRecordNumber,
		CategoryAccountNumber,
		CategoryDeviceID,
		CategoryURL,
		CategoryIPAddress,
		CategoryUniqueID,
	}
}

// ParseCategory resolves a category name, reporting false for unknown values.
func ParseCategory(value string) (Category, bool) {
	normalised := Category(strings.ToLower(strings.TrimSpace(value)))
	for _, c := range Categories() {
		if c == normalised {
			return c, true
		}
	}
	return "", false
}

// Placeholder returns the replacement token written in place of a redacted span.
func (c Category) Placeholder() string {
	return "[" + strings.ToUpper(string(c)) + "]"
}

// Sensitivity selects how aggressive detection is.
type Sensitivity int

const (
	SensitivityMinimal Sensitivity = iota + 1
	SensitivityModerate
	SensitivityStrict
)

// ParseSensitivity maps a configuration string onto a Sensitivity.
func ParseSensitivity(value string) (Sensitivity, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "minimal":
		return SensitivityMinimal, true
	case "moderate":
		return SensitivityModerate, true
	case "strict":
		return SensitivityStrict, true
	default:
		return 0, false
	}
}

func (s Sensitivity) String() string {
	switch s {
	case SensitivityMinimal:
		return "minimal"
	case SensitivityModerate:
		return "moderate"
	case SensitivityStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// ConfidenceThreshold is the minimum confidence a detection needs at this level.
func (s Sensitivity) ConfidenceThreshold() float64 {
	switch s {
	case SensitivityMinimal:
		return 0.85
	case SensitivityModerate:
		return 0.7
	default:
		return 0.5
	}
}

// Detection is a sensitive span found in a document. Offsets are byte offsets, end exclusive.
type Detection struct {
	Category   Category
	Start      int
	End        int
	Confidence float64
	RuleID     string
}

// Len returns the span length in bytes.
func (d Detection) Len() int {
	return d.End - d.Start
}

// Overlaps reports whether two detections share at least one byte.
func (d Detection) Overlaps(other Detection) bool {
	return d.Start < other.End && other.Start < d.End
}

// RedactionEvent is the audit record for one replaced span. It never carries the original text.
type RedactionEvent struct {
	CorrelationID string    `json:"correlation_id"`
	Category      Category  `json:"category"`
	Start         int       `json:"start"`
	End           int       `json:"end"`
	Confidence    float64   `json:"confidence"`
	RuleID        string    `json:"rule_id"`
	Replacement   string    `json:"replacement"`
	Timestamp     time.Time `json:"timestamp"`
}
