package middleware_test

import (
	"testing"

	. "alephauto/pkg/api/middleware"
)

func TestValidator_ValidateJobType_AcceptsNonEmpty(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	for _, jobType := range []string{"sync-repo", "build", "deploy", "a"} {
		if err := v.ValidateJobType(jobType); err != nil {
			t.Errorf("expected job type '%s' to be valid, got error: %v", jobType, err)
		}
	}
}

func TestValidator_ValidateJobType_RejectsEmpty(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	if err := v.ValidateJobType(""); err == nil {
		t.Error("expected empty job type to be rejected")
	}
}

func TestValidator_ValidateJobType_RejectsTooLong(t *testing.T) {
	config := DefaultValidatorConfig()
	config.MaxJobTypeLen = 5
	v := NewValidator(config)

	if err := v.ValidateJobType("this-type-is-too-long"); err == nil {
		t.Error("expected too long job type to be rejected")
	}
}

func TestValidator_ValidateJobType_RespectsAllowList(t *testing.T) {
	config := DefaultValidatorConfig()
	config.AllowedJobTypes = []string{"sync-repo", "build"}
	v := NewValidator(config)

	if err := v.ValidateJobType("sync-repo"); err != nil {
		t.Errorf("expected allow-listed job type to be valid, got: %v", err)
	}
	if err := v.ValidateJobType("deploy"); err == nil {
		t.Error("expected job type outside the allow-list to be rejected")
	}
}

func TestValidator_ValidateData_AcceptsWithinLimit(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	if err := v.ValidateData([]byte(`{"key":"value"}`)); err != nil {
		t.Errorf("expected small payload to be valid, got: %v", err)
	}
}

func TestValidator_ValidateData_RejectsTooLarge(t *testing.T) {
	config := DefaultValidatorConfig()
	config.MaxDataBytes = 10
	v := NewValidator(config)

	if err := v.ValidateData([]byte("this payload is definitely too large")); err == nil {
		t.Error("expected oversized payload to be rejected")
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Field:   "type",
		Message: "is required",
	}

	expected := "type: is required"
	if err.Error() != expected {
		t.Errorf("expected '%s', got '%s'", expected, err.Error())
	}
}
