package validation

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/fieldwork/fieldsync/internal/types"
)

// --- Field validators ---

func TestValidateUTF8(t *testing.T) {
	if err := ValidateUTF8("notes", "Hello, 世界"); err != nil {
		t.Errorf("ValidateUTF8(valid) = %v, want nil", err)
	}
	err := ValidateUTF8("notes", string([]byte{0xff, 0xfe}))
	if err == nil || err.Field != "notes" {
		t.Errorf("ValidateUTF8(invalid) = %v, want error on notes", err)
	}
}

func TestValidateNoNullBytes(t *testing.T) {
	if err := ValidateNoNullBytes("notes", "clean"); err != nil {
		t.Errorf("ValidateNoNullBytes(clean) = %v", err)
	}
	if err := ValidateNoNullBytes("notes", "a\x00b"); err == nil {
		t.Error("ValidateNoNullBytes(with null) = nil, want error")
	}
}

func TestValidateMaxLength(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		max     int
		wantErr bool
	}{
		{"within", "abc", 5, false},
		{"at limit", "abcde", 5, false},
		{"exceeds", "abcdef", 5, true},
		{"multibyte counts runes", "世界世界世", 5, false},
		{"multibyte exceeds", "世界世界世界", 5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMaxLength("f", tt.value, tt.max)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMaxLength(%q, %d) = %v, wantErr %v", tt.value, tt.max, err, tt.wantErr)
			}
		})
	}
}

func TestValidateULID(t *testing.T) {
	tests := []struct {
		value   string
		wantErr bool
	}{
		{"01ARZ3NDEKTSV4RRFFQ69G5FAV", false},
		{"01arz3ndektsv4rrffq69g5fav", false},
		{"01ARZ3NDEK", true},
		{"01ARZ3NDEKTSV4RRFFQ69G5FAVX", true},
		{"01ARZ3NDEKTSV4RRFFQ69G5FAI", true},
		{"", true},
	}
	for _, tt := range tests {
		if err := ValidateULID("id", tt.value); (err != nil) != tt.wantErr {
			t.Errorf("ValidateULID(%q) = %v, wantErr %v", tt.value, err, tt.wantErr)
		}
	}
}

func TestValidateRequired(t *testing.T) {
	if err := ValidateRequired("tree_id", "tr-1"); err != nil {
		t.Errorf("ValidateRequired(non-empty) = %v", err)
	}
	for _, v := range []string{"", "   ", "\t\n"} {
		if err := ValidateRequired("tree_id", v); err == nil {
			t.Errorf("ValidateRequired(%q) = nil, want error", v)
		}
	}
}

func TestValidateRange(t *testing.T) {
	if err := ValidateRange("latitude", 90, -90, 90); err != nil {
		t.Errorf("boundary value rejected: %v", err)
	}
	err := ValidateRange("latitude", -90.5, -90, 90)
	if err == nil {
		t.Fatal("ValidateRange(below) = nil, want error")
	}
	if !strings.Contains(err.Message, "-90.0") {
		t.Errorf("message = %q, want bounds", err.Message)
	}
}

func TestValidateFinite(t *testing.T) {
	if ValidateFinite("height_cm", 12.5) != nil {
		t.Error("finite value rejected")
	}
	if ValidateFinite("height_cm", math.NaN()) == nil || ValidateFinite("height_cm", math.Inf(1)) == nil {
		t.Error("NaN/Inf accepted")
	}
}

// --- Collector ---

func TestCollector(t *testing.T) {
	var c Collector
	if c.HasErrors() || c.Err() != nil {
		t.Fatal("empty collector should report no errors")
	}

	c.Add(nil)
	c.Add(&ValidationError{Field: "a", Message: "is required"})
	c.Add(&ValidationError{Field: "b", Message: "must be a number"})

	if len(c.Errors()) != 2 {
		t.Fatalf("Errors() = %v, want 2 entries", c.Errors())
	}
	if got := c.Err().Error(); got != "a is required; b must be a number" {
		t.Errorf("Err() = %q", got)
	}
}

// --- ValidateSubmission ---

func validRegister() types.Payload {
	return types.Payload{
		types.StringField("species_id", "sp-1"),
		types.NumberField("latitude", -1.2921),
		types.NumberField("longitude", 36.8219),
		types.FileField("photo", types.FileRef{URI: "file:///tmp/p.jpg", MimeType: "image/jpeg", FileName: "p.jpg"}),
	}
}

func TestValidateSubmission_ValidPayloads(t *testing.T) {
	tests := []struct {
		typ     types.SubmissionType
		payload types.Payload
	}{
		{types.SubmissionRegister, validRegister()},
		{types.SubmissionValidate, types.Payload{types.StringField("tree_id", "tr-1"), types.StringField("status", "healthy")}},
		{types.SubmissionGrowthCheck, types.Payload{types.StringField("tree_id", "tr-1"), types.NumberField("height_cm", 140)}},
		{types.SubmissionIncident, types.Payload{types.StringField("tree_id", "tr-1"), types.StringField("incident_type", "fire")}},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			if err := ValidateSubmission(tt.typ, tt.payload); err != nil {
				t.Errorf("ValidateSubmission() = %v, want nil", err)
			}
		})
	}
}

func TestValidateSubmission_ReportsEveryMissingField(t *testing.T) {
	err := ValidateSubmission(types.SubmissionRegister, types.Payload{types.StringField("species_id", " ")})

	var verrs Errors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected Errors, got %v", err)
	}
	fields := map[string]bool{}
	for _, e := range verrs {
		fields[e.Field] = true
	}
	for _, want := range []string{"species_id", "latitude", "longitude"} {
		if !fields[want] {
			t.Errorf("missing error for %s in %v", want, verrs)
		}
	}
}

func TestValidateSubmission_CoordinateRanges(t *testing.T) {
	tests := []struct {
		name    string
		lat     types.Field
		wantErr bool
	}{
		{"numeric in range", types.NumberField("latitude", 45), false},
		{"numeric out of range", types.NumberField("latitude", 91), true},
		{"string in range", types.StringField("latitude", "-12.5"), false},
		{"string out of range", types.StringField("latitude", "-120"), true},
		{"not a number", types.StringField("latitude", "north"), true},
		{"bool", types.BoolField("latitude", true), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := types.Payload{
				types.StringField("species_id", "sp-1"),
				tt.lat,
				types.NumberField("longitude", 10),
			}
			err := ValidateSubmission(types.SubmissionRegister, payload)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSubmission() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSubmission_LongitudeRange(t *testing.T) {
	payload := validRegister()
	payload[2] = types.NumberField("longitude", 181)
	if err := ValidateSubmission(types.SubmissionRegister, payload); err == nil {
		t.Error("longitude 181 accepted")
	}
}

func TestValidateSubmission_FileRefNeedsURIAndMime(t *testing.T) {
	payload := validRegister()
	payload[3] = types.FileField("photo", types.FileRef{URI: "file:///tmp/p.jpg"})

	err := ValidateSubmission(types.SubmissionRegister, payload)
	if err == nil || !strings.Contains(err.Error(), "mimeType") {
		t.Errorf("expected mimeType error, got %v", err)
	}

	payload[3] = types.FileField("photo", types.FileRef{MimeType: "image/jpeg"})
	err = ValidateSubmission(types.SubmissionRegister, payload)
	if err == nil || !strings.Contains(err.Error(), "uri") {
		t.Errorf("expected uri error, got %v", err)
	}
}

func TestValidateSubmission_UnknownType(t *testing.T) {
	err := ValidateSubmission(types.SubmissionType("survey"), nil)
	if err == nil || !strings.Contains(err.Error(), "unknown submission type") {
		t.Errorf("ValidateSubmission(unknown) = %v", err)
	}
}

func TestValidateSubmission_StringHygiene(t *testing.T) {
	payload := types.Payload{
		types.StringField("tree_id", "tr-1"),
		types.StringField("incident_type", "fire"),
		types.StringField("notes", strings.Repeat("x", MaxStringLength+1)),
		types.StringField("witness", "a\x00b"),
	}
	err := ValidateSubmission(types.SubmissionIncident, payload)
	if err == nil {
		t.Fatal("expected errors")
	}
	msg := err.Error()
	if !strings.Contains(msg, "notes exceeds maximum length") || !strings.Contains(msg, "witness must not contain null bytes") {
		t.Errorf("unexpected message %q", msg)
	}
}
