package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestFastPathNoTelemetry(t *testing.T) {
	t.Parallel()

	SetTelemetryReporter(nil)

	// Create an error - should use fast path
	err := fmt.Errorf("test error")
	ee := New(err).Build()

	if ee.Err.Error() != "test error" {
		t.Errorf("Expected error message 'test error', got '%s'", ee.Err.Error())
	}

	if ee.GetComponent() != "unknown" {
		t.Errorf("Expected component 'unknown' in fast path, got '%s'", ee.GetComponent())
	}

	if ee.Category != CategoryGeneric {
		t.Errorf("Expected category 'generic' in fast path, got '%s'", ee.Category)
	}
}

func TestBuilderKeepsExplicitFields(t *testing.T) {
	t.Parallel()

	ee := Newf("tensor shape mismatch: %d labels", 4).
		Component("classifier").
		Category(CategoryValidation).
		Context("labels", 4).
		Build()

	if ee.GetComponent() != "classifier" {
		t.Errorf("Expected component 'classifier', got '%s'", ee.GetComponent())
	}
	if ee.Category != CategoryValidation {
		t.Errorf("Expected validation category, got '%s'", ee.Category)
	}
	if got := ee.GetContext()["labels"]; got != 4 {
		t.Errorf("Expected context labels=4, got %v", got)
	}
}

func TestIsCategory(t *testing.T) {
	t.Parallel()

	ee := New(NewStd("species not in reference table")).
		Component("datastore").
		Category(CategoryNotFound).
		Build()

	wrapped := fmt.Errorf("lookup failed: %w", ee)

	if !IsNotFound(wrapped) {
		t.Error("Expected IsNotFound to see through the wrap")
	}
	if IsCategory(wrapped, CategoryDatabase) {
		t.Error("Did not expect CategoryDatabase match")
	}
}

func TestRegexPrecompilation(t *testing.T) {
	t.Parallel()

	testMessage1 := "Error at https://api.example.com?api_key=secret123&token=abc"
	scrubbed1 := basicURLScrub(testMessage1)
	expected1 := "Error at https://api.example.com?[REDACTED]"
	if scrubbed1 != expected1 {
		t.Errorf("URL scrubbing failed. Expected: %s, got: %s", expected1, scrubbed1)
	}

	testMessage2 := "Config error: api_key=secret123 is invalid"
	scrubbed2 := basicURLScrub(testMessage2)
	if !strings.Contains(scrubbed2, "[API_KEY_REDACTED]") {
		t.Errorf("API key scrubbing failed. Expected to contain '[API_KEY_REDACTED]', got: %s", scrubbed2)
	}

	testMessage3 := "Auth failed with token=abc123 and auth=xyz789"
	scrubbed3 := basicURLScrub(testMessage3)
	if strings.Contains(scrubbed3, "abc123") || strings.Contains(scrubbed3, "xyz789") {
		t.Errorf("Token scrubbing failed. Sensitive data still present: %s", scrubbed3)
	}
}
