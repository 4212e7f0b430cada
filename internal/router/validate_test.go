package router

import "testing"

func schemaFixture() map[string]any {
	return map[string]any{
		"properties": map[string]any{
			"city":    map[string]any{"type": "string"},
			"country": map[string]any{"type": "string"},
		},
		"required": []any{"city"},
	}
}

func TestValidateArgumentsAcceptsValidCall(t *testing.T) {
	if err := ValidateArguments(schemaFixture(), map[string]any{"city": "Cork"}); err != nil {
		t.Fatalf("ValidateArguments() = %v, want nil", err)
	}
}

func TestValidateArgumentsFlagsMissingRequired(t *testing.T) {
	err := ValidateArguments(schemaFixture(), map[string]any{"country": "IE"})
	if err == nil {
		t.Fatalf("ValidateArguments() = nil, want missing-required violation")
	}
	found := false
	for _, v := range err.Violations {
		if v.Type == "missing-required-parameter" && v.Parameter == "city" {
			found = true
		}
	}
	if !found {
		t.Fatalf("violations = %+v, want missing-required-parameter for city", err.Violations)
	}
}

func TestValidateArgumentsSuggestsSimilarParameterName(t *testing.T) {
	err := ValidateArguments(schemaFixture(), map[string]any{"city": "Cork", "contry": "IE"})
	if err == nil {
		t.Fatalf("ValidateArguments() = nil, want invalid-parameter violation")
	}
	var v *Violation
	for i := range err.Violations {
		if err.Violations[i].Parameter == "contry" {
			v = &err.Violations[i]
		}
	}
	if v == nil {
		t.Fatalf("violations = %+v, want one for 'contry'", err.Violations)
	}
	if len(v.Suggestions) == 0 || v.Suggestions[0] != "country" {
		t.Fatalf("suggestions = %+v, want [\"country\"]", v.Suggestions)
	}
}

func TestValidateArgumentsReportsConstraintViolation(t *testing.T) {
	schema := map[string]any{
		"properties": map[string]any{
			"count": map[string]any{"type": "integer", "minimum": 1},
		},
	}
	err := ValidateArguments(schema, map[string]any{"count": 0})
	if err == nil {
		t.Fatalf("ValidateArguments() = nil, want constraint-violation")
	}
	found := false
	for _, v := range err.Violations {
		if v.Type == "constraint-violation" {
			found = true
		}
	}
	if !found {
		t.Fatalf("violations = %+v, want a constraint-violation entry", err.Violations)
	}
}

func TestValidateArgumentsMessagePrefersUnknownParameterHint(t *testing.T) {
	err := ValidateArguments(schemaFixture(), map[string]any{"contry": "IE"})
	if err == nil {
		t.Fatalf("ValidateArguments() = nil, want violations")
	}
	if err.Error() == "" {
		t.Fatalf("expected a non-empty summary message")
	}
}

func TestMarshalDataBlobProducesValidationErrorsType(t *testing.T) {
	err := ValidateArguments(schemaFixture(), map[string]any{})
	if err == nil {
		t.Fatalf("expected violations")
	}
	blob, marshalErr := err.MarshalDataBlob()
	if marshalErr != nil {
		t.Fatalf("MarshalDataBlob: %v", marshalErr)
	}
	if len(blob) == 0 {
		t.Fatalf("expected non-empty data blob")
	}
}
