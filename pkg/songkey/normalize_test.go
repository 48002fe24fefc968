package songkey

import (
	"testing"
)

// runStringTransformationTest is a helper to run tests for string transformation functions.
func runStringTransformationTest(t *testing.T, testName string,
	transformFunc func(string) string, testCases []struct {
		name     string
		input    string
		expected string
	}) {
	t.Helper()
	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			result := transformFunc(tt.input)
			if result != tt.expected {
				t.Errorf("%s() = %q, want %q", testName, result, tt.expected)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "Lower case", input: "Queen", expected: "queen"},
		{name: "Trim", input: "  Queen ", expected: "queen"},
		{name: "Inner whitespace kept", input: "Bohemian   Rhapsody", expected: "bohemian   rhapsody"},
		{name: "Dots replaced", input: "Mr. Brightside", expected: "mr_ brightside"},
		{name: "Slash replaced", input: "AC/DC", expected: "ac_dc"},
		{name: "Brackets and hash", input: "[Live] #1 $", expected: "_live_ _1 _"},
		{name: "Composition kept", input: "Bjo\u0308rk", expected: "bjo\u0308rk"},
		{name: "Control characters kept", input: "a\tb", expected: "a\tb"},
		{name: "Empty", input: "   ", expected: ""},
	}

	runStringTransformationTest(t, "Normalize", Normalize, tests)
}

func TestIdentity(t *testing.T) {
	a := Identity("X", "Y")
	b := Identity("x", " y ")
	if a != b {
		t.Errorf("Identity() case/whitespace variants differ: %q vs %q", a, b)
	}
	if a != "x_y" {
		t.Errorf("Identity() = %q, want %q", a, "x_y")
	}

	if Identity("Queen", "Bohemian Rhapsody") == Identity("Queen", "Radio Ga Ga") {
		t.Error("Identity() should differ for different titles")
	}

	if Identity("Guns  N Roses", "Patience") == Identity("guns n roses", "Patience") {
		t.Error("Identity() should keep inner whitespace variants apart")
	}

	// The separator is not escaped, so an underscore can move between fields.
	if got, want := Identity("a_b", "c"), Identity("a", "b_c"); got != want || got != "a_b_c" {
		t.Errorf("Identity() = %q and %q, want both %q", got, want, "a_b_c")
	}
}

func TestDisplay(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "Keeps case", input: "  ABBA  ", expected: "ABBA"},
		{name: "Collapses spaces", input: "Dancing   Queen", expected: "Dancing Queen"},
		{name: "Composes accents", input: "Bjo\u0308rk", expected: "Bj\u00f6rk"},
	}

	runStringTransformationTest(t, "Display", Display, tests)
}

func BenchmarkIdentity(b *testing.B) {
	for range b.N {
		Identity("The Beatles feat. Billy Preston", "Get Back (Remastered 2009)")
	}
}
