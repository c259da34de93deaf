// Package validation checks submission payloads before they are sent or
// queued, so that a replay can never fail on input the user could have fixed.
package validation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/fieldwork/fieldsync/internal/types"
)

// MaxStringLength bounds every free-text field.
const MaxStringLength = 4000

// requiredFields lists the fields each submission type cannot omit.
var requiredFields = map[types.SubmissionType][]string{
	types.SubmissionRegister:    {"species_id", "latitude", "longitude"},
	types.SubmissionValidate:    {"tree_id", "status"},
	types.SubmissionGrowthCheck: {"tree_id", "height_cm"},
	types.SubmissionIncident:    {"tree_id", "incident_type"},
}

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	return e.Field + " " + e.Message
}

// Errors is a non-empty set of failures; it implements error.
type Errors []ValidationError

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, v := range e {
		parts[i] = v.String()
	}
	return strings.Join(parts, "; ")
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends err if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// Err returns the collected failures as an error, or nil.
func (c *Collector) Err() error {
	if len(c.errors) == 0 {
		return nil
	}
	return Errors(c.errors)
}

// ValidateSubmission checks payload against the rules for typ. The returned
// error, when non-nil, is of type Errors.
func ValidateSubmission(typ types.SubmissionType, payload types.Payload) error {
	var c Collector

	required, ok := requiredFields[typ]
	if !ok {
		c.Add(&ValidationError{Field: "type", Message: fmt.Sprintf("unknown submission type %q", typ)})
		return c.Err()
	}
	for _, name := range required {
		c.Add(ValidatePresent(payload, name))
	}

	for _, f := range payload {
		switch f.Kind {
		case types.KindString:
			c.Add(ValidateUTF8(f.Name, f.String))
			c.Add(ValidateNoNullBytes(f.Name, f.String))
			c.Add(ValidateMaxLength(f.Name, f.String, MaxStringLength))
		case types.KindNumber:
			c.Add(ValidateFinite(f.Name, f.Number))
		case types.KindFile:
			c.Add(ValidateFileRef(f))
		}
	}

	if f, ok := payload.Get("latitude"); ok {
		c.Add(ValidateCoordinate(f, -90, 90))
	}
	if f, ok := payload.Get("longitude"); ok {
		c.Add(ValidateCoordinate(f, -180, 180))
	}

	return c.Err()
}

// ValidatePresent returns an error if the named field is absent or blank.
func ValidatePresent(payload types.Payload, name string) *ValidationError {
	f, ok := payload.Get(name)
	if !ok {
		return &ValidationError{Field: name, Message: "is required"}
	}
	switch f.Kind {
	case types.KindString:
		return ValidateRequired(name, f.String)
	case types.KindFile:
		if f.File == nil {
			return &ValidationError{Field: name, Message: "is required"}
		}
	}
	return nil
}

// ValidateFileRef requires a URI and a MIME type on a file reference.
func ValidateFileRef(f types.Field) *ValidationError {
	if f.File == nil || strings.TrimSpace(f.File.URI) == "" {
		return &ValidationError{Field: f.Name, Message: "file reference must have a uri"}
	}
	if strings.TrimSpace(f.File.MimeType) == "" {
		return &ValidationError{Field: f.Name, Message: "file reference must have a mimeType"}
	}
	return nil
}

// ValidateCoordinate accepts numeric fields and numeric strings within [min, max].
func ValidateCoordinate(f types.Field, min, max float64) *ValidationError {
	var v float64
	switch f.Kind {
	case types.KindNumber:
		v = f.Number
	case types.KindString:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(f.String), 64)
		if err != nil {
			if strings.TrimSpace(f.String) == "" {
				// Blank values are reported by the required check.
				return nil
			}
			return &ValidationError{Field: f.Name, Message: "must be a number"}
		}
		v = parsed
	default:
		return &ValidationError{Field: f.Name, Message: "must be a number"}
	}
	return ValidateRange(f.Name, v, min, max)
}

// ValidateFinite rejects NaN and infinities.
func ValidateFinite(field string, v float64) *ValidationError {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &ValidationError{Field: field, Message: "must be a finite number"}
	}
	return nil
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{Field: field, Message: "must be valid UTF-8"}
	}
	return nil
}

// ValidateNoNullBytes returns an error if the value contains null bytes.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{Field: field, Message: "must not contain null bytes"}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

// ValidateULID returns an error if the value is not a 26-character
// Crockford Base32 string. Queue item ids are ULIDs.
func ValidateULID(field, value string) *ValidationError {
	if len(value) != 26 {
		return &ValidationError{Field: field, Message: "must be a valid ULID (26 characters)"}
	}
	const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
	for _, r := range strings.ToUpper(value) {
		if !strings.ContainsRune(crockford, r) {
			return &ValidationError{Field: field, Message: "must be a valid ULID (invalid character)"}
		}
	}
	return nil
}

// ValidateRequired returns an error if the value is empty or whitespace-only.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

// ValidateRange returns an error if the value is outside [min, max].
func ValidateRange(field string, value, min, max float64) *ValidationError {
	if value < min || value > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be between %.1f and %.1f", min, max),
		}
	}
	return nil
}
