package redact

import (
	"reflect"
	"testing"
)

func TestIsSensitiveKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"ssn", true},
		{"patient_ssn", true},
		{"dateOfBirth", true},
		{"date_of_birth", true},
		{"dob", true},
		{"phone", true},
		{"phoneNumber", true},
		{"email", true},
		{"home_address", true},
		{"medical_record_number", true},
		{"mrn", true},
		{"phi_data", true},
		{"insurance_id", true},
		{"name", false},
		{"case_id", false},
		{"status", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := IsSensitiveKey(tt.key); got != tt.want {
				t.Errorf("IsSensitiveKey(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestRedact_FlatMap(t *testing.T) {
	input := map[string]any{
		"ssn":     "123-45-6789",
		"case_id": "case-1",
	}

	got, ok := Redact(input).(map[string]any)
	if !ok {
		t.Fatal("Redact() did not return a map")
	}

	if got["ssn"] != Marker {
		t.Errorf("ssn = %v, want %q", got["ssn"], Marker)
	}
	if got["case_id"] != "case-1" {
		t.Errorf("case_id = %v, want unchanged", got["case_id"])
	}
}

func TestRedact_NestedStructures(t *testing.T) {
	input := map[string]any{
		"patient": map[string]any{
			"dateOfBirth": "1980-01-01",
			"name":        "recorded elsewhere",
		},
		"contacts": []any{
			map[string]any{"phone": "555-0100", "role": "emergency"},
			map[string]any{"email": "a@example.com"},
		},
	}

	got := Redact(input).(map[string]any)

	patient := got["patient"].(map[string]any)
	if patient["dateOfBirth"] != Marker {
		t.Errorf("nested dateOfBirth = %v, want %q", patient["dateOfBirth"], Marker)
	}
	if patient["name"] != "recorded elsewhere" {
		t.Errorf("nested name = %v, want unchanged", patient["name"])
	}

	contacts := got["contacts"].([]any)
	first := contacts[0].(map[string]any)
	if first["phone"] != Marker {
		t.Errorf("array element phone = %v, want %q", first["phone"], Marker)
	}
	if first["role"] != "emergency" {
		t.Errorf("array element role = %v, want unchanged", first["role"])
	}
	second := contacts[1].(map[string]any)
	if second["email"] != Marker {
		t.Errorf("array element email = %v, want %q", second["email"], Marker)
	}
}

func TestRedact_DoesNotMutateInput(t *testing.T) {
	input := map[string]any{
		"ssn":    "123-45-6789",
		"nested": map[string]any{"phone": "555-0100"},
	}

	Redact(input)

	if input["ssn"] != "123-45-6789" {
		t.Errorf("input ssn mutated to %v", input["ssn"])
	}
	if input["nested"].(map[string]any)["phone"] != "555-0100" {
		t.Error("nested input mutated")
	}
}

func TestRedact_Primitives(t *testing.T) {
	tests := []struct {
		name  string
		input any
	}{
		{"nil", nil},
		{"string", "hello"},
		{"int", 42},
		{"float", 3.14},
		{"bool", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Redact(tt.input); !reflect.DeepEqual(got, tt.input) {
				t.Errorf("Redact(%v) = %v, want unchanged", tt.input, got)
			}
		})
	}
}

func TestMap_Nil(t *testing.T) {
	if got := Map(nil); got != nil {
		t.Errorf("Map(nil) = %v, want nil", got)
	}
}
