package gym

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestSortGradesUsesClassThenNumericTier(t *testing.T) {
	grades := []string{"V10", "V2", "B1", "V9"}
	SortGrades(grades)

	expected := []string{"B1", "V2", "V9", "V10"}
	if diff := cmp.Diff(expected, grades); diff != "" {
		t.Fatalf("unexpected grade order (-want +got):\n%s", diff)
	}
}

func TestCompareGradesHandlesSuffixAndCase(t *testing.T) {
	tests := []struct {
		name     string
		left     string
		right    string
		expected int
	}{
		{name: "same grade", left: "V4", right: "V4", expected: 0},
		{name: "case insensitive class", left: "v4", right: "V4", expected: 0},
		{name: "plus after plain", left: "V4", right: "V4+", expected: -1},
		{name: "tier dominates suffix", left: "V4+", right: "V5", expected: -1},
		{name: "class dominates tier", left: "B9", right: "V0", expected: -1},
		{name: "unparsable last", left: "project", right: "V0", expected: 1},
		{name: "unparsable lexical", left: "alpha", right: "beta", expected: -1},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			if got := CompareGrades(testCase.left, testCase.right); got != testCase.expected {
				t.Fatalf("CompareGrades(%q, %q) = %d, want %d", testCase.left, testCase.right, got, testCase.expected)
			}
		})
	}
}

func TestParseGradeRejectsMissingTier(t *testing.T) {
	if ParseGrade("V").Valid() {
		t.Fatalf("expected grade without tier to be invalid")
	}
	if ParseGrade("10").Valid() {
		t.Fatalf("expected grade without class to be invalid")
	}
	grade := ParseGrade(" b12+ ")
	if !grade.Valid() || grade.Class != "B" || grade.Tier != 12 || grade.Suffix != "+" {
		t.Fatalf("unexpected parse result: %#v", grade)
	}
}

func TestSortRoutesOrdersByDateThenGrade(t *testing.T) {
	older := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	routes := []Route{
		{ID: "a", Grade: "V10", DateSet: older},
		{ID: "b", Grade: "V2", DateSet: older},
		{ID: "c", Grade: "V9", DateSet: newer},
		{ID: "d", Grade: "B1", DateSet: newer},
	}

	SortRoutes(routes)

	ids := make([]string, 0, len(routes))
	for _, route := range routes {
		ids = append(ids, route.ID)
	}
	if diff := cmp.Diff([]string{"d", "c", "b", "a"}, ids); diff != "" {
		t.Fatalf("unexpected route order (-want +got):\n%s", diff)
	}
}

func TestGradeStringCanonicalises(t *testing.T) {
	cases := map[string]string{
		" v4 ":    "V4",
		"b12+":    "B12+",
		"V04":     "V4",
		"project": "project",
	}
	for input, expected := range cases {
		if got := ParseGrade(input).String(); got != expected {
			t.Fatalf("ParseGrade(%q).String() = %q, want %q", input, got, expected)
		}
	}
}
